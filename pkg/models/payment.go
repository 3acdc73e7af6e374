package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentMethodRazorpay = "razorpay"
	PaymentMethodCOD      = "cod"

	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

type Payment struct {
	ID                string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID           string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"order_id"`
	PaymentID         string          `gorm:"type:varchar(100)" json:"payment_id"`
	RazorpayOrderID   string          `gorm:"type:varchar(100);index" json:"razorpay_order_id"`
	RazorpaySignature string          `gorm:"type:varchar(200)" json:"-"`
	PaymentMethod     string          `gorm:"type:varchar(20);default:'razorpay'" json:"payment_method"`
	PaymentStatus     string          `gorm:"type:varchar(20);default:'pending'" json:"payment_status"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
