package gateway

import (
	"errors"
	"net/http"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/coupon"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/payment"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog

func (g *Gateway) listProducts(c *gin.Context) {
	products, err := g.catalog.ListActive(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "total": len(products)})
}

func (g *Gateway) getProduct(c *gin.Context) {
	product, err := g.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":       product,
		"display_price": product.DisplayPrice(),
		"in_stock":      product.InStock(),
	})
}

type createProductRequest struct {
	CategoryID    string           `json:"category_id"`
	SellerID      string           `json:"seller_id" binding:"required"`
	Name          string           `json:"name" binding:"required"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price" binding:"required"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	Stock         int              `json:"stock"`
}

func (g *Gateway) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := g.catalog.Create(c.Request.Context(), catalog.NewProduct{
		CategoryID:    req.CategoryID,
		SellerID:      req.SellerID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		DiscountPrice: req.DiscountPrice,
		Stock:         req.Stock,
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

type adjustStockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func (g *Gateway) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := g.catalog.AdjustStock(c.Request.Context(), c.Param("id"), req.Delta); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Cart

func (g *Gateway) getCart(c *gin.Context) {
	userCart, err := g.cart.GetOrCreate(c.Request.Context(), g.userID(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	g.renderCart(c, userCart)
}

type cartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

func (g *Gateway) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userCart, err := g.cart.AddItem(c.Request.Context(), g.userID(c), req.ProductID, req.Quantity)
	if err != nil {
		g.fail(c, err)
		return
	}
	g.renderCart(c, userCart)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (g *Gateway) updateCartItem(c *gin.Context) {
	var req updateQuantityRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userCart, err := g.cart.UpdateItem(c.Request.Context(), g.userID(c), c.Param("product_id"), req.Quantity)
	if err != nil {
		g.fail(c, err)
		return
	}
	g.renderCart(c, userCart)
}

func (g *Gateway) removeCartItem(c *gin.Context) {
	userCart, err := g.cart.RemoveItem(c.Request.Context(), g.userID(c), c.Param("product_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	g.renderCart(c, userCart)
}

func (g *Gateway) renderCart(c *gin.Context, userCart *models.Cart) {
	c.JSON(http.StatusOK, gin.H{
		"cart":        userCart,
		"total_items": userCart.TotalItems(),
		"subtotal":    userCart.Subtotal(),
	})
}

// Coupons

func (g *Gateway) listCoupons(c *gin.Context) {
	coupons, err := g.coupons.ListAvailable(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

type applyCouponRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderAmount decimal.Decimal `json:"order_amount"`
}

func (g *Gateway) applyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	applied, message, err := g.coupons.Apply(c.Request.Context(), g.userID(c), req.Code, req.OrderAmount)
	if err != nil {
		if errors.Is(err, coupon.ErrCouponNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid coupon code"})
			return
		}
		g.fail(c, err)
		return
	}
	if applied == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"discount": applied.Discount,
		"message":  message,
	})
}

func (g *Gateway) removeCoupon(c *gin.Context) {
	if err := g.coupons.Remove(c.Request.Context(), g.userID(c)); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Coupon removed"})
}

// Addresses

func (g *Gateway) listAddresses(c *gin.Context) {
	addresses, err := g.orders.ListAddresses(c.Request.Context(), g.userID(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

type addAddressRequest struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone"`
	Line    string `json:"line" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

func (g *Gateway) addAddress(c *gin.Context) {
	var req addAddressRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address, err := g.orders.AddAddress(c.Request.Context(), g.userID(c), order.NewAddress{
		Name:    req.Name,
		Phone:   req.Phone,
		Line:    req.Line,
		City:    req.City,
		State:   req.State,
		Pincode: req.Pincode,
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "address": address})
}

// Checkout & orders

type checkoutRequest struct {
	AddressID string `json:"address_id"`
}

func (g *Gateway) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := g.orders.Commit(c.Request.Context(), g.userID(c), req.AddressID)
	if err != nil {
		g.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":    result.Order,
		"warnings": result.Warnings,
		"next":     "/api/v1/payments/" + result.Order.ID + "/initiate",
	})
}

func (g *Gateway) listOrders(c *gin.Context) {
	orders, err := g.orders.History(c.Request.Context(), g.userID(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func (g *Gateway) getOrder(c *gin.Context) {
	ord, err := g.orders.Get(c.Request.Context(), g.userID(c), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": ord})
}

func (g *Gateway) cancelOrder(c *gin.Context) {
	ord, err := g.orders.Cancel(c.Request.Context(), g.userID(c), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": ord, "message": "Order has been cancelled"})
}

type updateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req updateOrderStatusRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ord, err := g.orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": ord})
}

// Payments

func (g *Gateway) initiatePayment(c *gin.Context) {
	result, err := g.payments.Initiate(c.Request.Context(), g.userID(c), c.Param("order_id"))
	if err != nil {
		g.fail(c, err)
		return
	}

	if result.AlreadyPaid {
		c.JSON(http.StatusOK, gin.H{"already_paid": true, "order": result.Order})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":            result.Order,
		"payment":          result.Payment,
		"gateway_order_id": result.GatewayOrderID,
		"cod_only":         result.CODOnly,
	})
}

func (g *Gateway) codPayment(c *gin.Context) {
	ord, err := g.payments.ConfirmCOD(c.Request.Context(), g.userID(c), c.Param("order_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": ord, "message": "Order placed successfully! Pay on delivery."})
}

type callbackRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	GatewaySignature string `json:"gateway_signature" binding:"required"`
}

func (g *Gateway) paymentCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	pay, err := g.payments.Callback(c.Request.Context(),
		req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "Invalid signature"})
			return
		}
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order_id": pay.OrderID})
}

func (g *Gateway) refundPayment(c *gin.Context) {
	pay, err := g.payments.Refund(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": pay})
}

// fail maps service errors onto HTTP statuses: bad input and business-rule
// rejections come back 4xx with the rule's message, conflicts come back 409,
// everything else is a 500 with the detail kept in the logs.
func (g *Gateway) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrNoAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, payment.ErrOrderCancelled),
		errors.Is(err, payment.ErrNotRefundable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrCouponAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, payment.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		g.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
