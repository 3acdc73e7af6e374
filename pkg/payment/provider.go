package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/shopspring/decimal"
)

// Provider is the external payment processor boundary: it creates a
// provider-side order handle and verifies callback signatures.
type Provider interface {
	CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error)
	VerifySignature(handle, paymentID, signature string) bool
}

// RazorpayProvider talks to the Razorpay orders API. Amounts are sent in the
// currency's minor unit (paise for INR).
type RazorpayProvider struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
}

func NewRazorpayProvider(cfg *config.RazorpayConfig) *RazorpayProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	return &RazorpayProvider{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type remoteOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentCapture int    `json:"payment_capture"`
}

type remoteOrderResponse struct {
	ID string `json:"id"`
}

func (p *RazorpayProvider) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	body, err := json.Marshal(remoteOrderRequest{
		Amount:         amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:       currency,
		PaymentCapture: 1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var out remoteOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway response missing order id")
	}
	return out.ID, nil
}

// VerifySignature checks the Razorpay callback signature:
// HMAC-SHA256(key_secret, "<order handle>|<payment id>") hex-encoded.
func (p *RazorpayProvider) VerifySignature(handle, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.keySecret))
	mac.Write([]byte(handle + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
