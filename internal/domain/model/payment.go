package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// PaymentTransaction is an immutable ledger row. GatewayTransactionID is the
// idempotency key: inserting the same id twice is a no-op.
type PaymentTransaction struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	SubscriptionID       string            `json:"subscription_id"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Gateway              PaymentGateway    `json:"gateway"`
	GatewayTransactionID string            `json:"gateway_transaction_id"`
	Status               PaymentStatus     `json:"status"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

func NewPaymentTransaction(userID, subscriptionID string, amount decimal.Decimal, currency string, gateway PaymentGateway, gatewayTxnID string, status PaymentStatus, now time.Time) (*PaymentTransaction, error) {
	if strings.TrimSpace(userID) == "" || subscriptionID == "" || gatewayTxnID == "" || amount.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &PaymentTransaction{
		ID:                   uuid.NewString(),
		UserID:               userID,
		SubscriptionID:       subscriptionID,
		Amount:               amount,
		Currency:             currency,
		Gateway:              gateway,
		GatewayTransactionID: gatewayTxnID,
		Status:               status,
		Metadata:             map[string]string{},
		CreatedAt:            now,
	}, nil
}

// SyntheticTransactionID builds a unique, time-sortable id for ledger rows
// that have no gateway counterpart (free activations, renewals).
func SyntheticTransactionID(prefix string, now time.Time) string {
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
