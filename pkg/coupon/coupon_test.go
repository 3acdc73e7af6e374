package coupon

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Coupon{}, &models.CouponUsage{}))

	mr := miniredis.RunT(t)
	redisRepo := repository.NewRedisRepository(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { redisRepo.Close() })

	return NewEngine(db, redisRepo, zap.NewNop()), db
}

func percentCoupon(code string, value float64, maxDiscount *float64) *models.Coupon {
	c := &models.Coupon{
		ID:            uuid.NewString(),
		Code:          code,
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromFloat(value),
		UsageLimit:    0,
		ExpiryDate:    time.Now().Add(24 * time.Hour),
		IsActive:      true,
	}
	if maxDiscount != nil {
		md := decimal.NewFromFloat(*maxDiscount)
		c.MaxDiscount = &md
	}
	return c
}

func TestValidateOrder(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()
	amount := decimal.NewFromInt(1000)

	t.Run("inactive wins over expired", func(t *testing.T) {
		c := percentCoupon("DEAD", 10, nil)
		c.IsActive = false
		c.ExpiryDate = time.Now().Add(-time.Hour)

		ok, reason := engine.Validate(ctx, c, "user-1", amount)
		require.False(t, ok)
		require.Equal(t, "Coupon is not active", reason)
	})

	t.Run("expired", func(t *testing.T) {
		c := percentCoupon("OLD", 10, nil)
		c.ExpiryDate = time.Now().Add(-time.Minute)

		ok, reason := engine.Validate(ctx, c, "user-1", amount)
		require.False(t, ok)
		require.Equal(t, "Coupon has expired", reason)
	})

	t.Run("expiry in a non-UTC zone is compared correctly", func(t *testing.T) {
		east := time.FixedZone("UTC+5", 5*3600)
		c := percentCoupon("TZ", 10, nil)
		// expires an hour from now, expressed in a +5 zone
		c.ExpiryDate = time.Now().In(east).Add(time.Hour)

		ok, _ := engine.Validate(ctx, c, "user-1", amount)
		require.True(t, ok)

		c.ExpiryDate = time.Now().In(east).Add(-time.Hour)
		ok, reason := engine.Validate(ctx, c, "user-1", amount)
		require.False(t, ok)
		require.Equal(t, "Coupon has expired", reason)
	})

	t.Run("usage limit reached", func(t *testing.T) {
		c := percentCoupon("LIMITED", 10, nil)
		c.UsageLimit = 2
		require.NoError(t, db.Create(c).Error)
		for i := 0; i < 2; i++ {
			require.NoError(t, db.Create(&models.CouponUsage{
				ID:       uuid.NewString(),
				CouponID: c.ID,
				UserID:   fmt.Sprintf("user-%d", i),
			}).Error)
		}

		ok, reason := engine.Validate(ctx, c, "user-9", amount)
		require.False(t, ok)
		require.Equal(t, "Coupon usage limit reached", reason)
	})

	t.Run("minimum order amount", func(t *testing.T) {
		c := percentCoupon("BIGONLY", 10, nil)
		c.MinOrderAmount = decimal.NewFromInt(500)

		ok, reason := engine.Validate(ctx, c, "user-1", decimal.NewFromInt(499))
		require.False(t, ok)
		require.Equal(t, "Minimum order amount is 500.00", reason)

		ok, _ = engine.Validate(ctx, c, "user-1", decimal.NewFromInt(500))
		require.True(t, ok)
	})

	t.Run("already used", func(t *testing.T) {
		c := percentCoupon("ONCE", 10, nil)
		require.NoError(t, db.Create(c).Error)
		require.NoError(t, db.Create(&models.CouponUsage{
			ID:       uuid.NewString(),
			CouponID: c.ID,
			UserID:   "user-1",
		}).Error)

		ok, reason := engine.Validate(ctx, c, "user-1", amount)
		require.False(t, ok)
		require.Equal(t, "You have already used this coupon", reason)

		ok, _ = engine.Validate(ctx, c, "user-2", amount)
		require.True(t, ok)
	})
}

func TestUsageLimitInsideTransaction(t *testing.T) {
	_, db := newTestEngine(t)

	c := percentCoupon("FIRST1", 10, nil)
	c.UsageLimit = 1
	require.NoError(t, db.Create(c).Error)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		ok, _ := ValidateTx(tx, c, "user-1", decimal.NewFromInt(1000))
		require.True(t, ok)
		return tx.Create(&models.CouponUsage{
			ID: uuid.NewString(), CouponID: c.ID, UserID: "user-1",
		}).Error
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		ok, reason := ValidateTx(tx, c, "user-2", decimal.NewFromInt(1000))
		require.False(t, ok)
		require.Equal(t, "Coupon usage limit reached", reason)
		return nil
	}))
}

func TestPrice(t *testing.T) {
	amount := decimal.NewFromInt(1000)

	t.Run("percentage", func(t *testing.T) {
		c := percentCoupon("SAVE20", 20, nil)
		require.True(t, Price(c, amount).Equal(decimal.NewFromInt(200)))
	})

	t.Run("percentage with cap", func(t *testing.T) {
		cap := 150.0
		c := percentCoupon("SAVE20CAP", 20, &cap)
		require.True(t, Price(c, amount).Equal(decimal.NewFromInt(150)))
	})

	t.Run("flat", func(t *testing.T) {
		c := &models.Coupon{
			DiscountType:  models.DiscountTypeFlat,
			DiscountValue: decimal.NewFromInt(250),
		}
		require.True(t, Price(c, amount).Equal(decimal.NewFromInt(250)))
	})

	t.Run("discount never exceeds order amount", func(t *testing.T) {
		c := &models.Coupon{
			DiscountType:  models.DiscountTypeFlat,
			DiscountValue: decimal.NewFromInt(5000),
		}
		require.True(t, Price(c, amount).Equal(amount))

		cap := 99999.0
		pc := percentCoupon("ALL", 100, &cap)
		require.True(t, Price(pc, amount).LessThanOrEqual(amount))
	})
}

func TestApply(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()

	c := percentCoupon("SAVE20", 20, nil)
	require.NoError(t, db.Create(c).Error)

	t.Run("valid code stores session coupon", func(t *testing.T) {
		applied, message, err := engine.Apply(ctx, "user-1", "save20", decimal.NewFromInt(1000))
		require.NoError(t, err)
		require.NotNil(t, applied)
		require.True(t, applied.Discount.Equal(decimal.NewFromInt(200)))
		require.Contains(t, message, "Coupon applied")

		stored, err := engine.Applied(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		require.Equal(t, c.ID, stored.CouponID)
		require.Equal(t, "SAVE20", stored.Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, _, err := engine.Apply(ctx, "user-1", "NOPE", decimal.NewFromInt(1000))
		require.ErrorIs(t, err, ErrCouponNotFound)
	})

	t.Run("invalid coupon returns reason without storing", func(t *testing.T) {
		expired := percentCoupon("GONE", 10, nil)
		expired.ExpiryDate = time.Now().Add(-time.Hour)
		require.NoError(t, db.Create(expired).Error)

		applied, message, err := engine.Apply(ctx, "user-2", "GONE", decimal.NewFromInt(1000))
		require.NoError(t, err)
		require.Nil(t, applied)
		require.Equal(t, "Coupon has expired", message)

		stored, err := engine.Applied(ctx, "user-2")
		require.NoError(t, err)
		require.Nil(t, stored)
	})

	t.Run("remove clears session", func(t *testing.T) {
		require.NoError(t, engine.Remove(ctx, "user-1"))
		stored, err := engine.Applied(ctx, "user-1")
		require.NoError(t, err)
		require.Nil(t, stored)
	})
}

func TestListAvailable(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()

	live := percentCoupon("LIVE", 10, nil)
	expired := percentCoupon("EXPIRED", 10, nil)
	expired.ExpiryDate = time.Now().Add(-time.Hour)
	inactive := percentCoupon("OFF", 10, nil)
	inactive.IsActive = false
	for _, c := range []*models.Coupon{live, expired, inactive} {
		require.NoError(t, db.Create(c).Error)
	}

	coupons, err := engine.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	require.Equal(t, "LIVE", coupons[0].Code)
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "SAVE20", NormalizeCode("  save20 "))
}
