package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"

	OrderPaymentPending  = "pending"
	OrderPaymentPaid     = "paid"
	OrderPaymentFailed   = "failed"
	OrderPaymentRefunded = "refunded"
)

// Order is immutable once created except for its status fields. Amounts are
// frozen at settlement time; final = total - discount.
type Order struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string          `gorm:"type:varchar(36);not null;index" json:"user_id"`
	AddressID      *string         `gorm:"type:varchar(36)" json:"address_id,omitempty"`
	OrderNumber    string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"order_number"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(10,2)" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"discount_amount"`
	FinalAmount    decimal.Decimal `gorm:"type:decimal(10,2)" json:"final_amount"`
	PaymentStatus  string          `gorm:"type:varchar(20);default:'pending'" json:"payment_status"`
	OrderStatus    string          `gorm:"type:varchar(20);default:'pending'" json:"order_status"`
	Notes          string          `gorm:"type:text" json:"notes"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Cancellable reports whether the owner may still cancel the order.
func (o *Order) Cancellable() bool {
	return o.OrderStatus == OrderStatusPending || o.OrderStatus == OrderStatusConfirmed
}

// OrderItem snapshots name and unit price at order time so later catalog
// changes or product deletion never alter historical orders.
type OrderItem struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID     string          `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ProductID   *string         `gorm:"type:varchar(36)" json:"product_id,omitempty"`
	ProductName string          `gorm:"type:varchar(200);not null" json:"product_name"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2)" json:"price"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (i *OrderItem) TotalPrice() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
