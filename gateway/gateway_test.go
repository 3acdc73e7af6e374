package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/coupon"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/payment"
	"github.com/example/marketplace/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "gw-test-secret"

type fakeProvider struct{ counter int }

func (p *fakeProvider) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	p.counter++
	return fmt.Sprintf("rzp_order_%d", p.counter), nil
}

func (p *fakeProvider) VerifySignature(handle, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(handle + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil)) == signature
}

func signCallback(handle, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(handle + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

type nopSink struct{}

func (nopSink) Emit(event string, ord *models.Order) {}

func newTestGateway(t *testing.T) (*Gateway, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Address{}, &models.Product{},
		&models.Cart{}, &models.CartItem{},
		&models.Coupon{}, &models.CouponUsage{},
		&models.Order{}, &models.OrderItem{},
		&models.Payment{}, &models.Invoice{},
	))

	mr := miniredis.RunT(t)
	redisRepo := repository.NewRedisRepository(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { redisRepo.Close() })

	logger := zap.NewNop()
	cfg := &config.Config{}

	catalogSvc := catalog.NewService(db, redisRepo, logger)
	cartSvc := cart.NewService(db, logger)
	couponEngine := coupon.NewEngine(db, redisRepo, logger)
	orderSvc := order.NewService(db, redisRepo, nil, nopSink{}, logger)
	paymentAdapter := payment.NewAdapter(db, nil, &fakeProvider{}, nopSink{}, "INR", logger)

	gw := NewGateway(cfg, logger, catalogSvc, cartSvc, couponEngine, orderSvc, paymentAdapter)
	gw.SetupRoutes()
	return gw, db
}

func doJSON(t *testing.T, gw *Gateway, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	gw.Router().ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t)
	w, out := doJSON(t, gw, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["status"])
}

func TestIdentityRequired(t *testing.T) {
	gw, _ := newTestGateway(t)
	w, _ := doJSON(t, gw, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	gw, db := newTestGateway(t)
	userID := uuid.NewString()

	require.NoError(t, db.Create(&models.User{
		ID: userID, Name: "Asha", Email: "asha@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.Coupon{
		ID: uuid.NewString(), Code: "SAVE20",
		DiscountType: models.DiscountTypePercentage, DiscountValue: decimal.NewFromInt(20),
		ExpiryDate: time.Now().Add(24 * time.Hour), IsActive: true,
	}).Error)

	// seller lists a product
	w, out := doJSON(t, gw, http.MethodPost, "/api/v1/products", "", map[string]interface{}{
		"seller_id": "seller-1",
		"name":      "Handloom Saree",
		"price":     "500",
		"stock":     10,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	productID := out["product"].(map[string]interface{})["id"].(string)

	// buyer adds an address
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/addresses", userID, map[string]interface{}{
		"name": "Asha", "line": "12 Market St", "city": "Pune",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	addressID := out["address"].(map[string]interface{})["id"].(string)

	// fills the cart
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/cart/items", userID, map[string]interface{}{
		"product_id": productID, "quantity": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, out["total_items"])

	// applies a coupon
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/coupons/apply", userID, map[string]interface{}{
		"code": "save20", "order_amount": "1000",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["success"])

	// checkout without an address re-renders with the reason
	w, _ = doJSON(t, gw, http.MethodPost, "/api/v1/checkout", userID, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// checkout commits the order
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/checkout", userID, map[string]interface{}{
		"address_id": addressID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	ord := out["order"].(map[string]interface{})
	orderID := ord["id"].(string)
	require.Equal(t, "800", ord["final_amount"])
	require.Equal(t, "200", ord["discount_amount"])

	// payment initiation hands back the gateway order handle
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/payments/"+orderID+"/initiate", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	handle := out["gateway_order_id"].(string)
	require.NotEmpty(t, handle)

	// a tampered callback is rejected and the order stays pending
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/payments/callback", "", map[string]interface{}{
		"gateway_order_id":   handle,
		"gateway_payment_id": "pay_1",
		"gateway_signature":  "forged",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, out["success"])

	var pending models.Order
	require.NoError(t, db.Where("id = ?", orderID).First(&pending).Error)
	require.Equal(t, models.OrderPaymentPending, pending.PaymentStatus)

	// the genuine callback confirms the order
	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/payments/callback", "", map[string]interface{}{
		"gateway_order_id":   handle,
		"gateway_payment_id": "pay_1",
		"gateway_signature":  signCallback(handle, "pay_1"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["success"])
	require.Equal(t, orderID, out["order_id"])

	var confirmed models.Order
	require.NoError(t, db.Where("id = ?", orderID).First(&confirmed).Error)
	require.Equal(t, models.OrderPaymentPaid, confirmed.PaymentStatus)
	require.Equal(t, models.OrderStatusConfirmed, confirmed.OrderStatus)
}

func TestApplyCouponRejections(t *testing.T) {
	gw, db := newTestGateway(t)
	userID := uuid.NewString()

	w, out := doJSON(t, gw, http.MethodPost, "/api/v1/coupons/apply", userID, map[string]interface{}{
		"code": "UNKNOWN", "order_amount": "100",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, out["success"])
	require.Equal(t, "Invalid coupon code", out["message"])

	require.NoError(t, db.Create(&models.Coupon{
		ID: uuid.NewString(), Code: "BIG",
		DiscountType: models.DiscountTypeFlat, DiscountValue: decimal.NewFromInt(50),
		MinOrderAmount: decimal.NewFromInt(1000),
		ExpiryDate:     time.Now().Add(time.Hour), IsActive: true,
	}).Error)

	w, out = doJSON(t, gw, http.MethodPost, "/api/v1/coupons/apply", userID, map[string]interface{}{
		"code": "BIG", "order_amount": "100",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, out["success"])
	require.Contains(t, out["message"], "Minimum order amount")
}
