package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrItemNotFound = errors.New("cart item not found")
	ErrOutOfStock   = errors.New("product out of stock")
)

// Service manages the per-user mutable cart. Quantity is clamped to the
// product's live stock at add/update time; the authoritative stock check
// happens later at settlement.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// GetOrCreate returns the user's cart with items and products loaded.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.WithContext(ctx).
		Preload("Items.Product").
		Where("user_id = ?", userID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cart = models.Cart{
			ID:        uuid.NewString(),
			UserID:    userID,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&cart).Error; err != nil {
			return nil, fmt.Errorf("failed to create cart: %w", err)
		}
		return &cart, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return &cart, nil
}

// AddItem merges quantity into an existing line or creates one. The final
// quantity never exceeds the product's current stock.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		quantity = 1
	}

	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", productID, true).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if product.Stock <= 0 {
		return nil, ErrOutOfStock
	}

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	var item models.CartItem
	err = s.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cart.ID, productID).
		First(&item).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		item = models.CartItem{
			ID:        uuid.NewString(),
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  min(quantity, product.Stock),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to add cart item: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load cart item: %w", err)
	default:
		item.Quantity = min(item.Quantity+quantity, product.Stock)
		item.UpdatedAt = time.Now()
		if err := s.db.WithContext(ctx).Save(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	}

	return s.GetOrCreate(ctx, userID)
}

// UpdateItem sets a line's quantity. Zero or negative removes the line;
// anything above the product's stock is rejected.
func (s *Service) UpdateItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	var item models.CartItem
	if err := s.db.WithContext(ctx).
		Preload("Product").
		Where("cart_id = ? AND product_id = ?", cart.ID, productID).
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load cart item: %w", err)
	}

	if quantity <= 0 {
		if err := s.db.WithContext(ctx).Delete(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to remove cart item: %w", err)
		}
		return s.GetOrCreate(ctx, userID)
	}

	if quantity > item.Product.Stock {
		return nil, ErrOutOfStock
	}

	item.Quantity = quantity
	item.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.GetOrCreate(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	return s.UpdateItem(ctx, userID, productID, 0)
}

// Clear deletes every line in the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return ClearTx(s.db.WithContext(ctx), cart.ID)
}

// ClearTx is the transactional form used at the end of order settlement.
func ClearTx(tx *gorm.DB, cartID string) error {
	if err := tx.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
