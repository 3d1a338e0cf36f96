// File: internal/infra/adapters/payment/razorpay_gateway.go
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"resume-billing/internal/config"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// RazorpayGateway implements adapter.PaymentGateway over the Razorpay REST v1 API.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

func NewRazorpayGateway(cfg config.RazorpayConfig) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid razorpay base url: %w", err)
	}
	return &RazorpayGateway{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *RazorpayGateway) Name() model.PaymentGateway { return model.GatewayRazorpay }

// VerifyPayment checks the checkout signature first and then asks Razorpay
// for the payment status. A bad signature or an unknown payment is a
// rejection; transport failures and 5xx answers are errors.
func (g *RazorpayGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (bool, error) {
	if req.PaymentID == "" {
		return false, nil
	}
	if req.Signature != "" && !g.validSignature(req) {
		return false, nil
	}

	httpReq, err := g.newRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(req.PaymentID), nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("razorpay fetch payment: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, nil
	}

	var out struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("razorpay decode payment: %w", err)
	}
	if out.Status != "captured" && out.Status != "authorized" {
		return false, nil
	}
	return coversDue(req, out.Amount, out.Currency), nil
}

// coversDue compares a payment in minor units (paise, cents) with the amount
// the caller expects. Razorpay only settles two-decimal currencies.
func coversDue(req adapter.VerifyRequest, minor int64, currency string) bool {
	if req.Amount.IsZero() {
		return true
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, currency) {
		return false
	}
	return decimal.NewFromInt(minor).Equal(req.Amount.Shift(2).Round(0))
}

// CancelSubscription calls /v1/subscriptions/{id}/cancel.
func (g *RazorpayGateway) CancelSubscription(ctx context.Context, reference string, opts adapter.CancelOptions) error {
	if reference == "" {
		return errors.New("razorpay cancel: empty subscription reference")
	}
	atEnd := 0
	if opts.AtCycleEnd {
		atEnd = 1
	}
	body, _ := json.Marshal(map[string]int{"cancel_at_cycle_end": atEnd})

	httpReq, err := g.newRequest(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(reference)+"/cancel", body)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return nil
	}
	var out struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)
	if strings.Contains(strings.ToLower(out.Error.Description), "no billing cycle") {
		return fmt.Errorf("razorpay cancel %s: %w", reference, adapter.ErrNoBillingCycle)
	}
	return fmt.Errorf("razorpay cancel %s: status %d: %s", reference, resp.StatusCode, out.Error.Description)
}

// validSignature compares the checkout signature. Subscription payments sign
// "payment_id|subscription_id", order payments sign "order_id|payment_id".
func (g *RazorpayGateway) validSignature(req adapter.VerifyRequest) bool {
	var payload string
	switch {
	case req.GatewaySubscriptionID != "":
		payload = req.PaymentID + "|" + req.GatewaySubscriptionID
	case req.OrderID != "":
		payload = req.OrderID + "|" + req.PaymentID
	default:
		return false
	}
	expected := Sign(g.keySecret, payload)
	return hmac.Equal([]byte(expected), []byte(req.Signature))
}

func (g *RazorpayGateway) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Sign returns the hex HMAC-SHA256 of payload, as Razorpay computes it.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
