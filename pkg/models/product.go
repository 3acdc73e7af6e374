package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Category struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Slug      string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (Category) TableName() string {
	return "categories"
}

type Product struct {
	ID            string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CategoryID    string           `gorm:"type:varchar(36);index" json:"category_id"`
	SellerID      string           `gorm:"type:varchar(36);index" json:"seller_id"`
	Name          string           `gorm:"type:varchar(200);not null" json:"name"`
	Slug          string           `gorm:"type:varchar(200);index" json:"slug"`
	Description   string           `gorm:"type:text" json:"description"`
	Price         decimal.Decimal  `gorm:"type:decimal(10,2)" json:"price"`
	DiscountPrice *decimal.Decimal `gorm:"type:decimal(10,2)" json:"discount_price,omitempty"`
	Stock         int              `gorm:"not null;default:0" json:"stock"`
	IsActive      bool             `gorm:"default:true" json:"is_active"`
	IsFeatured    bool             `gorm:"default:false" json:"is_featured"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

// DisplayPrice is the discount price when set, the list price otherwise.
func (p *Product) DisplayPrice() decimal.Decimal {
	if p.DiscountPrice != nil && p.DiscountPrice.IsPositive() {
		return *p.DiscountPrice
	}
	return p.Price
}

func (p *Product) InStock() bool {
	return p.Stock > 0
}
