package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderEvent is the message handed to the email actor for each order
// lifecycle transition.
type OrderEvent struct {
	Event string
	Order *models.Order
}

// Service is the notification sink for order events. Delivery runs on a
// dedicated actor so settlement never waits on it; failures are logged and
// recorded in the email log, nothing more.
type Service struct {
	system *actor.ActorSystem
	pid    *actor.PID
	logger *zap.Logger
}

func NewService(db *gorm.DB, mail *config.MailConfig, logger *zap.Logger) *Service {
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return &EmailActor{db: db, mail: mail, logger: logger}
	})
	pid := system.Root.Spawn(props)

	return &Service{system: system, pid: pid, logger: logger}
}

// Emit is fire-and-forget.
func (s *Service) Emit(event string, ord *models.Order) {
	s.system.Root.Send(s.pid, &OrderEvent{Event: event, Order: ord})
}

func (s *Service) Stop() {
	s.system.Root.Stop(s.pid)
}

// EmailActor renders and records order emails.
type EmailActor struct {
	db     *gorm.DB
	mail   *config.MailConfig
	logger *zap.Logger
}

func (a *EmailActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *OrderEvent:
		a.handleOrderEvent(msg)

	case *actor.Started:
		a.logger.Info("Email actor started")

	case *actor.Stopping:
		a.logger.Info("Email actor stopping")

	case *actor.Stopped:
		a.logger.Info("Email actor stopped")
	}
}

func (a *EmailActor) handleOrderEvent(msg *OrderEvent) {
	ord := msg.Order
	if ord == nil {
		return
	}

	var user models.User
	if err := a.db.Where("id = ?", ord.UserID).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			a.logger.Warn("Failed to load user for notification",
				zap.String("user_id", ord.UserID), zap.Error(err))
		}
		return
	}

	subject, body := renderOrderEmail(msg.Event, ord, &user)
	if subject == "" {
		return
	}

	log := &models.EmailLog{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		Subject:   subject,
		Message:   body,
		EmailType: msg.Event,
		IsSent:    true,
		SentAt:    time.Now(),
	}
	if err := a.db.Create(log).Error; err != nil {
		a.logger.Warn("Failed to record email log",
			zap.String("order_id", ord.ID),
			zap.String("event", msg.Event),
			zap.Error(err))
		return
	}

	a.logger.Info("Order email recorded",
		zap.String("order_number", ord.OrderNumber),
		zap.String("event", msg.Event),
		zap.String("email", user.Email))
}

func renderOrderEmail(event string, ord *models.Order, user *models.User) (string, string) {
	switch event {
	case "order_placed", "order_confirmed":
		subject := fmt.Sprintf("Order Confirmation - %s", ord.OrderNumber)
		body := fmt.Sprintf(
			"Dear %s,\n\nThank you for your order!\n\nOrder Number: %s\nTotal Amount: %s\n\nWe will notify you when your order is shipped.\n",
			user.Name, ord.OrderNumber, ord.FinalAmount.StringFixed(2))
		return subject, body

	case "order_shipped":
		subject := fmt.Sprintf("Order Shipped - %s", ord.OrderNumber)
		body := fmt.Sprintf(
			"Dear %s,\n\nGreat news! Your order %s has been shipped.\n",
			user.Name, ord.OrderNumber)
		return subject, body

	case "order_cancelled":
		subject := fmt.Sprintf("Order Cancelled - %s", ord.OrderNumber)
		body := fmt.Sprintf(
			"Dear %s,\n\nYour order %s has been cancelled.\n",
			user.Name, ord.OrderNumber)
		return subject, body
	}
	return "", ""
}
