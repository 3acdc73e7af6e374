package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/marketplace/gateway"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/coupon"
	"github.com/example/marketplace/pkg/discovery"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/notify"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/payment"
	"github.com/example/marketplace/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// Load config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting marketplace API",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	// Connect to MySQL. TranslateError turns driver duplicate-key errors
	// into gorm.ErrDuplicatedKey, which settlement relies on.
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Fatal("Failed to connect to MySQL", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Address{},
		&models.Category{},
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.Coupon{},
		&models.CouponUsage{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.EmailLog{},
		&models.Invoice{},
	); err != nil {
		logger.Fatal("Failed to migrate", zap.Error(err))
	}

	// Redis
	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()

	// MongoDB
	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongoRepo.Close(ctx)
	}()

	ctx := context.Background()
	if err := redisRepo.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}

	// Notification actor
	notifier := notify.NewService(db, &cfg.Mail, logger)
	defer notifier.Stop()

	// Payment provider; COD-only when no gateway credentials are set
	var provider payment.Provider
	if cfg.Razorpay.KeyID != "" && cfg.Razorpay.KeySecret != "" {
		provider = payment.NewRazorpayProvider(&cfg.Razorpay)
	} else {
		logger.Warn("No payment gateway configured, running COD-only")
	}

	// Services
	catalogSvc := catalog.NewService(db, redisRepo, logger)
	cartSvc := cart.NewService(db, logger)
	couponEngine := coupon.NewEngine(db, redisRepo, logger)
	orderSvc := order.NewService(db, redisRepo, mongoRepo, notifier, logger)
	paymentAdapter := payment.NewAdapter(db, mongoRepo, provider, notifier, cfg.Razorpay.Currency, logger)

	// Service discovery
	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
	} else {
		instance := &discovery.ServiceInstance{
			Name: cfg.Server.Name,
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}
		if err := sd.Register(ctx, instance); err != nil {
			logger.Warn("Failed to register service", zap.Error(err))
		} else {
			logger.Info("Service registered in etcd",
				zap.String("name", cfg.Server.Name),
				zap.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
			defer sd.Deregister(ctx, instance)
		}
		defer sd.Close()
	}

	// Gateway
	gw := gateway.NewGateway(cfg, logger, catalogSvc, cartSvc, couponEngine, orderSvc, paymentAdapter)
	gw.SetupRoutes()

	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Fatal("Gateway error", zap.Error(err))
	}

	logger.Info("Service stopped")
}
