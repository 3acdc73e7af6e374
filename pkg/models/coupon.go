package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFlat       = "flat"
)

type Coupon struct {
	ID             string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code           string           `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	DiscountType   string           `gorm:"type:varchar(20);default:'percentage'" json:"discount_type"`
	DiscountValue  decimal.Decimal  `gorm:"type:decimal(10,2)" json:"discount_value"`
	MinOrderAmount decimal.Decimal  `gorm:"type:decimal(10,2);default:0" json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `gorm:"type:decimal(10,2)" json:"max_discount,omitempty"`
	UsageLimit     int              `gorm:"not null;default:0" json:"usage_limit"` // 0 = unlimited
	ExpiryDate     time.Time        `gorm:"not null" json:"expiry_date"`
	IsActive       bool             `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

// CouponUsage records a single redemption. The unique (coupon_id, user_id)
// pair is the enforcement mechanism for one-redemption-per-user; rows are
// never deleted.
type CouponUsage struct {
	ID       string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CouponID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_coupon_user" json:"coupon_id"`
	UserID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_coupon_user" json:"user_id"`
	UsedAt   time.Time `gorm:"autoCreateTime" json:"used_at"`
}

func (CouponUsage) TableName() string {
	return "coupon_usages"
}
