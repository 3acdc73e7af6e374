package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/coupon"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNoAddress         = errors.New("no delivery address selected")
	ErrInsufficientStock = catalog.ErrInsufficientStock
	ErrCouponAlreadyUsed = errors.New("coupon already used")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotCancellable    = errors.New("order cannot be cancelled")
)

// EventSink receives order lifecycle events. Emission is fire-and-forget;
// sink failures never block settlement.
type EventSink interface {
	Emit(event string, order *models.Order)
}

const (
	EventOrderPlaced    = "order_placed"
	EventOrderConfirmed = "order_confirmed"
	EventOrderShipped   = "order_shipped"
	EventOrderCancelled = "order_cancelled"
)

// Service is the transactional settlement core: it turns a cart, an address
// and an optional session coupon into an immutable order, atomically.
type Service struct {
	db     *gorm.DB
	redis  *repository.RedisRepository
	mongo  *repository.MongoRepository
	sink   EventSink
	logger *zap.Logger
}

func NewService(db *gorm.DB, redis *repository.RedisRepository, mongo *repository.MongoRepository, sink EventSink, logger *zap.Logger) *Service {
	return &Service{db: db, redis: redis, mongo: mongo, sink: sink, logger: logger}
}

// Result carries the committed order plus any non-fatal warnings, such as a
// session coupon that no longer validated at commit time.
type Result struct {
	Order    *models.Order
	Warnings []string
}

// Commit executes the settlement pipeline as one transaction: re-validate the
// session coupon against the live subtotal (invalid coupons are dropped with
// a warning, not a failure), price the order, create it with a
// collision-retried order number, snapshot items while decrementing stock,
// record coupon usage, and clear the cart. Any stock shortfall or duplicate
// redemption aborts the whole transaction.
func (s *Service) Commit(ctx context.Context, userID, addressID string) (*Result, error) {
	var cartRec models.Cart
	err := s.db.WithContext(ctx).
		Preload("Items.Product").
		Where("user_id = ?", userID).
		First(&cartRec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(cartRec.Items) == 0) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if addressID == "" {
		return nil, ErrNoAddress
	}
	var address models.Address
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoAddress
		}
		return nil, fmt.Errorf("failed to load address: %w", err)
	}

	applied, err := s.redis.GetAppliedCoupon(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to read applied coupon, continuing without",
			zap.String("user_id", userID), zap.Error(err))
		applied = nil
	}

	result := &Result{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subtotal := cartRec.Subtotal()
		discount := decimal.Zero
		var usedCoupon *models.Coupon

		if applied != nil {
			var c models.Coupon
			err := tx.Where("id = ?", applied.CouponID).First(&c).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// stale session reference, drop silently
			case err != nil:
				return fmt.Errorf("failed to load coupon: %w", err)
			default:
				if ok, reason := coupon.ValidateTx(tx, &c, userID, subtotal); ok {
					discount = coupon.Price(&c, subtotal)
					usedCoupon = &c
				} else {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("Coupon could not be applied: %s", reason))
				}
			}
		}

		ord := &models.Order{
			ID:             uuid.NewString(),
			UserID:         userID,
			AddressID:      &address.ID,
			TotalAmount:    subtotal,
			DiscountAmount: discount,
			FinalAmount:    subtotal.Sub(discount),
			PaymentStatus:  models.OrderPaymentPending,
			OrderStatus:    models.OrderStatusPending,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		if err := createWithOrderNumber(tx, ord); err != nil {
			return err
		}

		for _, line := range cartRec.Items {
			item := &models.OrderItem{
				ID:          uuid.NewString(),
				OrderID:     ord.ID,
				ProductID:   &line.ProductID,
				ProductName: line.Product.Name,
				Quantity:    line.Quantity,
				Price:       line.UnitPrice(),
			}
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			ord.Items = append(ord.Items, *item)

			if err := catalog.AdjustStockTx(tx, line.ProductID, -line.Quantity); err != nil {
				return err
			}
		}

		if usedCoupon != nil {
			usage := &models.CouponUsage{
				ID:       uuid.NewString(),
				CouponID: usedCoupon.ID,
				UserID:   userID,
				UsedAt:   time.Now(),
			}
			if err := tx.Create(usage).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrCouponAlreadyUsed
				}
				return fmt.Errorf("failed to record coupon usage: %w", err)
			}
		}

		if err := cart.ClearTx(tx, cartRec.ID); err != nil {
			return err
		}

		result.Order = ord
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if err := s.redis.ClearAppliedCoupon(ctx, userID); err != nil {
		s.logger.Warn("Failed to clear applied coupon", zap.String("user_id", userID), zap.Error(err))
	}

	s.audit("commit_order", result.Order.ID, userID, bson.M{
		"order_number": result.Order.OrderNumber,
		"total":        result.Order.TotalAmount.String(),
		"discount":     result.Order.DiscountAmount.String(),
		"final":        result.Order.FinalAmount.String(),
	})
	if s.sink != nil {
		s.sink.Emit(EventOrderPlaced, result.Order)
	}

	s.logger.Info("Order committed",
		zap.String("order_id", result.Order.ID),
		zap.String("order_number", result.Order.OrderNumber),
		zap.String("user_id", userID),
		zap.String("final_amount", result.Order.FinalAmount.String()))

	return result, nil
}

const orderNumberAttempts = 5

// createWithOrderNumber inserts the order, regenerating the random order
// number on a uniqueness collision. Numbers are random digits, not a
// sequential counter, so order ids cannot be guessed.
func createWithOrderNumber(tx *gorm.DB, ord *models.Order) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		ord.OrderNumber = generateOrderNumber()
		err := tx.Create(ord).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create order: %w", err)
		}
	}
	return fmt.Errorf("failed to allocate order number after %d attempts", orderNumberAttempts)
}

func generateOrderNumber() string {
	const digits = "0123456789"
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable for request serving anyway
		panic(err)
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return "IND" + string(buf)
}

// Cancel cancels an order still in pending or confirmed state and restores
// stock for every item whose product still exists.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var ord models.Order
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if !ord.Cancellable() {
		return nil, ErrNotCancellable
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND order_status IN ?", ord.ID,
				[]string{models.OrderStatusPending, models.OrderStatusConfirmed}).
			Updates(map[string]interface{}{
				"order_status": models.OrderStatusCancelled,
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotCancellable
		}

		for _, item := range ord.Items {
			if item.ProductID == nil {
				continue
			}
			err := catalog.AdjustStockTx(tx, *item.ProductID, item.Quantity)
			if errors.Is(err, catalog.ErrProductNotFound) {
				// product deleted since the order was placed
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	ord.OrderStatus = models.OrderStatusCancelled

	s.audit("cancel_order", ord.ID, userID, bson.M{"order_number": ord.OrderNumber})
	if s.sink != nil {
		s.sink.Emit(EventOrderCancelled, &ord)
	}

	s.logger.Info("Order cancelled",
		zap.String("order_id", ord.ID),
		zap.String("order_number", ord.OrderNumber))

	return &ord, nil
}

// Get returns an order owned by the user, items included.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var ord models.Order
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &ord, nil
}

// History lists the user's orders, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order through its fulfilment states. Used by the
// seller/admin surface; shipped and delivered transitions emit events.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) (*models.Order, error) {
	var ord models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&ord).Updates(map[string]interface{}{
		"order_status": status,
		"updated_at":   time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	ord.OrderStatus = status

	if status == models.OrderStatusShipped && s.sink != nil {
		s.sink.Emit(EventOrderShipped, &ord)
	}

	return &ord, nil
}

func (s *Service) audit(action, entityID, userID string, data bson.M) {
	if s.mongo == nil {
		return
	}
	go func() {
		if err := s.mongo.CreateAuditLog(context.Background(), &repository.AuditLog{
			Service:  "order-service",
			Action:   action,
			EntityID: entityID,
			UserID:   userID,
			Data:     data,
		}); err != nil {
			s.logger.Warn("Failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}()
}
