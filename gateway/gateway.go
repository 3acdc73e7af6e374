package gateway

import (
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/coupon"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/payment"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Gateway is the HTTP surface over the marketplace services.
type Gateway struct {
	config   *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	catalog  *catalog.Service
	cart     *cart.Service
	coupons  *coupon.Engine
	orders   *order.Service
	payments *payment.Adapter
}

func NewGateway(cfg *config.Config, logger *zap.Logger,
	catalogSvc *catalog.Service, cartSvc *cart.Service, couponEngine *coupon.Engine,
	orderSvc *order.Service, paymentAdapter *payment.Adapter) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config:   cfg,
		logger:   logger,
		router:   router,
		catalog:  catalogSvc,
		cart:     cartSvc,
		coupons:  couponEngine,
		orders:   orderSvc,
		payments: paymentAdapter,
	}
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := g.router.Group("/api/v1")
	{
		products := v1.Group("/products")
		{
			products.GET("", g.listProducts)
			products.GET("/:id", g.getProduct)
			products.POST("", g.createProduct)
			products.POST("/:id/stock", g.adjustStock)
		}

		cartGroup := v1.Group("/cart", g.requireUser)
		{
			cartGroup.GET("", g.getCart)
			cartGroup.POST("/items", g.addCartItem)
			cartGroup.PUT("/items/:product_id", g.updateCartItem)
			cartGroup.DELETE("/items/:product_id", g.removeCartItem)
		}

		coupons := v1.Group("/coupons")
		{
			coupons.GET("", g.listCoupons)
			coupons.POST("/apply", g.requireUser, g.applyCoupon)
			coupons.DELETE("/apply", g.requireUser, g.removeCoupon)
		}

		addresses := v1.Group("/addresses", g.requireUser)
		{
			addresses.GET("", g.listAddresses)
			addresses.POST("", g.addAddress)
		}

		v1.POST("/checkout", g.requireUser, g.checkout)

		orders := v1.Group("/orders", g.requireUser)
		{
			orders.GET("", g.listOrders)
			orders.GET("/:id", g.getOrder)
			orders.POST("/:id/cancel", g.cancelOrder)
			orders.PUT("/:id/status", g.updateOrderStatus)
		}

		payments := v1.Group("/payments")
		{
			payments.POST("/:order_id/initiate", g.requireUser, g.initiatePayment)
			payments.POST("/:order_id/cod", g.requireUser, g.codPayment)
			payments.POST("/:order_id/refund", g.refundPayment)
			payments.POST("/callback", g.paymentCallback)
		}
	}

	// Swagger
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Server.Host, g.config.Server.Port)
	g.logger.Info("Gateway starting", zap.String("address", addr))
	return g.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (g *Gateway) Router() *gin.Engine {
	return g.router
}

const userIDKey = "user_id"

// requireUser resolves the caller's identity from the X-User-ID header set
// by the authentication proxy in front of this service.
func (g *Gateway) requireUser(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.AbortWithStatusJSON(401, gin.H{"error": "missing user identity"})
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func (g *Gateway) userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
