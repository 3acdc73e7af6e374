package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCouponNotFound = errors.New("invalid coupon code")

// Engine validates coupons and prices their discounts. Validation runs twice
// in a checkout: once when the coupon is attached to the session
// (informational) and again inside the settlement transaction (binding).
type Engine struct {
	db     *gorm.DB
	redis  *repository.RedisRepository
	logger *zap.Logger
}

func NewEngine(db *gorm.DB, redis *repository.RedisRepository, logger *zap.Logger) *Engine {
	return &Engine{db: db, redis: redis, logger: logger}
}

func (e *Engine) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := e.db.WithContext(ctx).
		Where("code = ?", NormalizeCode(code)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

func (e *Engine) GetByID(ctx context.Context, id string) (*models.Coupon, error) {
	var c models.Coupon
	err := e.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

// Validate runs the eligibility checks in order and reports the first
// failure. Expiry comparison is done on normalized UTC instants so a coupon
// stored in one zone and checked in another cannot flip validity.
func (e *Engine) Validate(ctx context.Context, c *models.Coupon, userID string, orderAmount decimal.Decimal) (bool, string) {
	return ValidateTx(e.db.WithContext(ctx), c, userID, orderAmount)
}

// ValidateTx is the transactional form used inside order settlement so the
// binding check reads through the same transaction that will record usage.
func ValidateTx(tx *gorm.DB, c *models.Coupon, userID string, orderAmount decimal.Decimal) (bool, string) {
	if !c.IsActive {
		return false, "Coupon is not active"
	}

	if c.ExpiryDate.UTC().Before(time.Now().UTC()) {
		return false, "Coupon has expired"
	}

	if c.UsageLimit > 0 {
		// concurrent settlements serialize on the coupon row before counting,
		// otherwise two of them could both read a count below the limit
		var locked models.Coupon
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", c.ID).
			First(&locked).Error; err != nil {
			return false, "Coupon could not be verified"
		}

		var used int64
		if err := tx.Model(&models.CouponUsage{}).
			Where("coupon_id = ?", c.ID).
			Count(&used).Error; err != nil {
			return false, "Coupon could not be verified"
		}
		if used >= int64(c.UsageLimit) {
			return false, "Coupon usage limit reached"
		}
	}

	if orderAmount.LessThan(c.MinOrderAmount) {
		return false, fmt.Sprintf("Minimum order amount is %s", c.MinOrderAmount.StringFixed(2))
	}

	if userID != "" {
		var redeemed int64
		if err := tx.Model(&models.CouponUsage{}).
			Where("coupon_id = ? AND user_id = ?", c.ID, userID).
			Count(&redeemed).Error; err != nil {
			return false, "Coupon could not be verified"
		}
		if redeemed > 0 {
			return false, "You have already used this coupon"
		}
	}

	return true, "Coupon is valid"
}

// Price computes the discount for an order amount. Percentage discounts are
// capped at max_discount when set; every discount is capped at the order
// amount so the payable figure never goes negative.
func Price(c *models.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	if c.DiscountType == models.DiscountTypePercentage {
		discount = orderAmount.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
		if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
			discount = *c.MaxDiscount
		}
	} else {
		discount = c.DiscountValue
	}

	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	return discount.Round(2)
}

// Apply validates the code against the current order amount and, when valid,
// stores the applied-coupon value object in the user's checkout session.
// The returned discount is informational; settlement reprices it.
func (e *Engine) Apply(ctx context.Context, userID, code string, orderAmount decimal.Decimal) (*repository.AppliedCoupon, string, error) {
	c, err := e.GetByCode(ctx, code)
	if err != nil {
		return nil, "", err
	}

	if ok, reason := e.Validate(ctx, c, userID, orderAmount); !ok {
		return nil, reason, nil
	}

	applied := &repository.AppliedCoupon{
		CouponID: c.ID,
		Code:     c.Code,
		Discount: Price(c, orderAmount),
	}
	if err := e.redis.SetAppliedCoupon(ctx, userID, applied); err != nil {
		return nil, "", fmt.Errorf("failed to store applied coupon: %w", err)
	}

	e.logger.Info("Coupon applied",
		zap.String("user_id", userID),
		zap.String("code", c.Code),
		zap.String("discount", applied.Discount.String()))

	return applied, fmt.Sprintf("Coupon applied! You save %s", applied.Discount.StringFixed(2)), nil
}

// Remove clears the applied coupon from the user's checkout session.
func (e *Engine) Remove(ctx context.Context, userID string) error {
	return e.redis.ClearAppliedCoupon(ctx, userID)
}

// Applied returns the session coupon for the user, or nil when none is set.
func (e *Engine) Applied(ctx context.Context, userID string) (*repository.AppliedCoupon, error) {
	return e.redis.GetAppliedCoupon(ctx, userID)
}

// ListAvailable returns active coupons whose expiry date has not passed.
func (e *Engine) ListAvailable(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	if err := e.db.WithContext(ctx).
		Where("is_active = ? AND expiry_date >= ?", true, time.Now().UTC()).
		Order("expiry_date ASC").
		Find(&coupons).Error; err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return coupons, nil
}

// NormalizeCode upper-cases and trims a user-entered coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
