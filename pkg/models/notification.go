package models

import (
	"time"
)

type EmailLog struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(36);index" json:"user_id"`
	Email     string    `gorm:"type:varchar(100);not null" json:"email"`
	Subject   string    `gorm:"type:varchar(255)" json:"subject"`
	Message   string    `gorm:"type:text" json:"message"`
	EmailType string    `gorm:"type:varchar(50)" json:"email_type"`
	IsSent    bool      `gorm:"default:false" json:"is_sent"`
	SentAt    time.Time `gorm:"autoCreateTime" json:"sent_at"`
}

func (EmailLog) TableName() string {
	return "email_logs"
}

type Invoice struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"order_id"`
	InvoiceNumber string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"invoice_number"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}
