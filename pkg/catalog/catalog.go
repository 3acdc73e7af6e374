package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Service owns product identity, pricing and stock counts. Stock mutation
// goes through AdjustStock so the non-negative invariant is enforced in one
// place.
type Service struct {
	db     *gorm.DB
	redis  *repository.RedisRepository
	logger *zap.Logger
}

func NewService(db *gorm.DB, redis *repository.RedisRepository, logger *zap.Logger) *Service {
	return &Service{db: db, redis: redis, logger: logger}
}

type NewProduct struct {
	CategoryID    string
	SellerID      string
	Name          string
	Description   string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	Stock         int
}

// Create builds the product with its derived slug computed up front rather
// than in a persistence hook.
func (s *Service) Create(ctx context.Context, np NewProduct) (*models.Product, error) {
	product := &models.Product{
		ID:            uuid.NewString(),
		CategoryID:    np.CategoryID,
		SellerID:      np.SellerID,
		Name:          np.Name,
		Slug:          Slugify(np.Name),
		Description:   np.Description,
		Price:         np.Price,
		DiscountPrice: np.DiscountPrice,
		Stock:         np.Stock,
		IsActive:      true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

// GetProduct serves reads from the Redis cache when a fresh entry exists and
// falls back to the database, re-priming the cache, on a miss.
func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if cached, err := s.redis.GetProductCache(ctx, id); err == nil {
		if product, ok := productFromCache(cached); ok {
			return product, nil
		}
	}

	var product models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cacheProduct(ctx, &product)
	return &product, nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// AdjustStock applies delta to the product's stock count. A negative delta
// that would take stock below zero is rejected with ErrInsufficientStock via
// a conditional update, which also keeps concurrent adjustments correct.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) error {
	if err := AdjustStockTx(s.db.WithContext(ctx), id, delta); err != nil {
		return err
	}
	if err := s.redis.InvalidateProduct(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate product cache", zap.String("product_id", id), zap.Error(err))
	}
	return nil
}

// AdjustStockTx is the transactional form used inside order settlement.
func AdjustStockTx(tx *gorm.DB, id string, delta int) error {
	query := tx.Model(&models.Product{}).Where("id = ?", id)
	if delta < 0 {
		query = query.Where("stock >= ?", -delta)
	}

	res := query.UpdateColumn("stock", gorm.Expr("stock + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("failed to adjust stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if delta < 0 {
			// zero rows is ambiguous here: either the guard rejected the
			// decrement or the product does not exist
			var count int64
			if err := tx.Model(&models.Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to adjust stock: %w", err)
			}
			if count > 0 {
				return ErrInsufficientStock
			}
		}
		return ErrProductNotFound
	}
	return nil
}

func productFromCache(cached *repository.ProductCache) (*models.Product, bool) {
	price, err := decimal.NewFromString(cached.Price)
	if err != nil {
		return nil, false
	}
	product := &models.Product{
		ID:       cached.ID,
		Name:     cached.Name,
		Price:    price,
		Stock:    cached.Stock,
		IsActive: cached.IsActive,
	}
	if cached.DiscountPrice != "" {
		discount, err := decimal.NewFromString(cached.DiscountPrice)
		if err != nil {
			return nil, false
		}
		product.DiscountPrice = &discount
	}
	return product, true
}

func (s *Service) cacheProduct(ctx context.Context, product *models.Product) {
	cache := &repository.ProductCache{
		ID:       product.ID,
		Name:     product.Name,
		Price:    product.Price.String(),
		Stock:    product.Stock,
		IsActive: product.IsActive,
	}
	if product.DiscountPrice != nil {
		cache.DiscountPrice = product.DiscountPrice.String()
	}
	if err := s.redis.CacheProduct(ctx, cache); err != nil {
		s.logger.Warn("Failed to cache product", zap.String("product_id", product.ID), zap.Error(err))
	}
}

// Slugify lowercases the name and collapses non-alphanumeric runs to single
// hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
