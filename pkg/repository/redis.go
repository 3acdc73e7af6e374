package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisRepository) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// AppliedCoupon is the checkout-session value object for a coupon attached to
// a user's pending checkout. The attach-time discount is informational; the
// binding figure is recomputed at order commit.
type AppliedCoupon struct {
	CouponID string          `json:"coupon_id"`
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

func checkoutCouponKey(userID string) string {
	return fmt.Sprintf("checkout:coupon:%s", userID)
}

func (r *RedisRepository) SetAppliedCoupon(ctx context.Context, userID string, ac *AppliedCoupon) error {
	return r.SetJSON(ctx, checkoutCouponKey(userID), ac, 2*time.Hour)
}

func (r *RedisRepository) GetAppliedCoupon(ctx context.Context, userID string) (*AppliedCoupon, error) {
	var ac AppliedCoupon
	err := r.GetJSON(ctx, checkoutCouponKey(userID), &ac)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

func (r *RedisRepository) ClearAppliedCoupon(ctx context.Context, userID string) error {
	return r.Del(ctx, checkoutCouponKey(userID))
}

// Cache for product data
type ProductCache struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Price         string  `json:"price"`
	DiscountPrice string  `json:"discount_price,omitempty"`
	Stock         int     `json:"stock"`
	IsActive      bool    `json:"is_active"`
}

func (r *RedisRepository) CacheProduct(ctx context.Context, product *ProductCache) error {
	key := fmt.Sprintf("product:%s", product.ID)
	return r.SetJSON(ctx, key, product, 15*time.Minute)
}

func (r *RedisRepository) GetProductCache(ctx context.Context, productID string) (*ProductCache, error) {
	key := fmt.Sprintf("product:%s", productID)
	var product ProductCache
	err := r.GetJSON(ctx, key, &product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *RedisRepository) InvalidateProduct(ctx context.Context, productID string) error {
	return r.Del(ctx, fmt.Sprintf("product:%s", productID))
}
