package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrOrderCancelled     = errors.New("order has been cancelled")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrNotRefundable      = errors.New("payment cannot be refunded")
)

// Adapter drives the payment state machine
// (pending -> processing -> completed|failed, refunded by admin action) and
// the matching order status transitions.
type Adapter struct {
	db       *gorm.DB
	mongo    *repository.MongoRepository
	provider Provider
	sink     order.EventSink
	currency string
	logger   *zap.Logger
}

func NewAdapter(db *gorm.DB, mongo *repository.MongoRepository, provider Provider, sink order.EventSink, currency string, logger *zap.Logger) *Adapter {
	if currency == "" {
		currency = "INR"
	}
	return &Adapter{db: db, mongo: mongo, provider: provider, sink: sink, currency: currency, logger: logger}
}

// InitiateResult tells the caller which path the payment took.
type InitiateResult struct {
	Order       *models.Order
	Payment     *models.Payment
	AlreadyPaid bool
	// GatewayOrderID is set on the external gateway path; empty means cash
	// on delivery is the only option.
	GatewayOrderID string
	CODOnly        bool
}

// Initiate begins payment capture for an order. Re-entry on a paid order is a
// no-op and a cancelled order is rejected. The payment row is created once and
// pinned to the order's final amount; retries reuse it.
func (a *Adapter) Initiate(ctx context.Context, userID, orderID string) (*InitiateResult, error) {
	ord, err := a.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if ord.PaymentStatus == models.OrderPaymentPaid {
		return &InitiateResult{Order: ord, AlreadyPaid: true}, nil
	}
	if ord.OrderStatus == models.OrderStatusCancelled {
		return nil, ErrOrderCancelled
	}

	pay, err := a.getOrCreatePayment(ctx, ord)
	if err != nil {
		return nil, err
	}

	if a.provider == nil {
		return &InitiateResult{Order: ord, Payment: pay, CODOnly: true}, nil
	}

	handle, err := a.provider.CreateRemoteOrder(ctx, ord.FinalAmount, a.currency)
	if err != nil {
		a.logger.Error("Gateway order creation failed, offering COD",
			zap.String("order_id", ord.ID), zap.Error(err))
		return &InitiateResult{Order: ord, Payment: pay, CODOnly: true}, nil
	}

	if err := a.db.WithContext(ctx).Model(pay).Updates(map[string]interface{}{
		"razorpay_order_id": handle,
		"payment_status":    models.PaymentStatusProcessing,
		"updated_at":        time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to persist gateway order id: %w", err)
	}
	pay.RazorpayOrderID = handle
	pay.PaymentStatus = models.PaymentStatusProcessing

	a.audit("initiate_payment", ord.ID, userID, bson.M{
		"gateway_order_id": handle,
		"amount":           pay.Amount.String(),
	})

	return &InitiateResult{Order: ord, Payment: pay, GatewayOrderID: handle}, nil
}

// ConfirmCOD switches the payment to cash on delivery: the order is confirmed
// immediately and the payment stays pending until money changes hands.
func (a *Adapter) ConfirmCOD(ctx context.Context, userID, orderID string) (*models.Order, error) {
	ord, err := a.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if ord.PaymentStatus == models.OrderPaymentPaid {
		return ord, nil
	}
	if ord.OrderStatus == models.OrderStatusCancelled {
		return nil, ErrOrderCancelled
	}

	pay, err := a.getOrCreatePayment(ctx, ord)
	if err != nil {
		return nil, err
	}

	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(pay).Updates(map[string]interface{}{
			"payment_method": models.PaymentMethodCOD,
			"payment_status": models.PaymentStatusPending,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).Updates(map[string]interface{}{
			"order_status": models.OrderStatusConfirmed,
			"updated_at":   time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	ord.OrderStatus = models.OrderStatusConfirmed
	if a.sink != nil {
		a.sink.Emit(order.EventOrderConfirmed, ord)
	}

	a.audit("cod_payment", ord.ID, userID, bson.M{"amount": pay.Amount.String()})
	a.logger.Info("COD order confirmed", zap.String("order_id", ord.ID))

	return ord, nil
}

// Callback handles the asynchronous gateway notification. It is idempotent:
// a payment already completed returns success without re-mutating anything.
// A tampered signature marks the payment failed and leaves the order
// untouched; a callback for a cancelled order is rejected.
func (a *Adapter) Callback(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Payment, error) {
	var pay models.Payment
	if err := a.db.WithContext(ctx).
		Where("razorpay_order_id = ?", gatewayOrderID).
		First(&pay).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if pay.PaymentStatus == models.PaymentStatusCompleted {
		return &pay, nil
	}

	var ord models.Order
	if err := a.db.WithContext(ctx).Where("id = ?", pay.OrderID).First(&ord).Error; err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if ord.OrderStatus == models.OrderStatusCancelled {
		return nil, ErrOrderCancelled
	}

	if a.provider == nil || !a.provider.VerifySignature(gatewayOrderID, gatewayPaymentID, signature) {
		if err := a.db.WithContext(ctx).Model(&pay).Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusFailed,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			a.logger.Error("Failed to mark payment failed", zap.String("payment_id", pay.ID), zap.Error(err))
		}
		a.logger.Warn("Payment signature verification failed",
			zap.String("gateway_order_id", gatewayOrderID),
			zap.String("gateway_payment_id", gatewayPaymentID))
		return nil, ErrInvalidSignature
	}

	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&pay).Updates(map[string]interface{}{
			"payment_id":         gatewayPaymentID,
			"razorpay_signature": signature,
			"payment_status":     models.PaymentStatusCompleted,
			"updated_at":         time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).Updates(map[string]interface{}{
			"payment_status": models.OrderPaymentPaid,
			"order_status":   models.OrderStatusConfirmed,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}

		invoice := &models.Invoice{
			ID:            uuid.NewString(),
			OrderID:       ord.ID,
			InvoiceNumber: "INV-" + ord.OrderNumber,
			CreatedAt:     time.Now(),
		}
		if err := tx.Create(invoice).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	pay.PaymentID = gatewayPaymentID
	pay.PaymentStatus = models.PaymentStatusCompleted
	ord.PaymentStatus = models.OrderPaymentPaid
	ord.OrderStatus = models.OrderStatusConfirmed

	if a.sink != nil {
		a.sink.Emit(order.EventOrderConfirmed, &ord)
	}

	a.audit("payment_completed", ord.ID, ord.UserID, bson.M{
		"gateway_payment_id": gatewayPaymentID,
		"amount":             pay.Amount.String(),
	})
	a.logger.Info("Payment completed",
		zap.String("order_id", ord.ID),
		zap.String("gateway_payment_id", gatewayPaymentID))

	return &pay, nil
}

// Refund is an explicit admin transition, reachable only from completed or
// failed payments.
func (a *Adapter) Refund(ctx context.Context, orderID string) (*models.Payment, error) {
	var pay models.Payment
	if err := a.db.WithContext(ctx).Where("order_id = ?", orderID).First(&pay).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if pay.PaymentStatus != models.PaymentStatusCompleted && pay.PaymentStatus != models.PaymentStatusFailed {
		return nil, ErrNotRefundable
	}

	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&pay).Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusRefunded,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to refund payment: %w", err)
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
			"payment_status": models.OrderPaymentRefunded,
			"order_status":   models.OrderStatusRefunded,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to mark order refunded: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	pay.PaymentStatus = models.PaymentStatusRefunded
	a.audit("refund_payment", orderID, "", bson.M{"amount": pay.Amount.String()})

	return &pay, nil
}

func (a *Adapter) ownedOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var ord models.Order
	if err := a.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &ord, nil
}

func (a *Adapter) getOrCreatePayment(ctx context.Context, ord *models.Order) (*models.Payment, error) {
	var pay models.Payment
	err := a.db.WithContext(ctx).Where("order_id = ?", ord.ID).First(&pay).Error
	if err == nil {
		return &pay, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	pay = models.Payment{
		ID:            uuid.NewString(),
		OrderID:       ord.ID,
		PaymentMethod: models.PaymentMethodRazorpay,
		PaymentStatus: models.PaymentStatusPending,
		Amount:        ord.FinalAmount,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := a.db.WithContext(ctx).Create(&pay).Error; err != nil {
		// a concurrent initiate may have won the unique (order_id) race
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.Payment
			if err := a.db.WithContext(ctx).Where("order_id = ?", ord.ID).First(&existing).Error; err != nil {
				return nil, fmt.Errorf("failed to load payment: %w", err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return &pay, nil
}

func (a *Adapter) audit(action, entityID, userID string, data bson.M) {
	if a.mongo == nil {
		return
	}
	go func() {
		if err := a.mongo.CreateAuditLog(context.Background(), &repository.AuditLog{
			Service:  "payment-service",
			Action:   action,
			EntityID: entityID,
			UserID:   userID,
			Data:     data,
		}); err != nil {
			a.logger.Warn("Failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}()
}
