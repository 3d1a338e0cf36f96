package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"resume-billing/internal/domain"
)

// SubscriptionStatus is the persisted status column.
type SubscriptionStatus string

const (
	SubscriptionStatusActive      SubscriptionStatus = "ACTIVE"
	SubscriptionStatusGracePeriod SubscriptionStatus = "GRACE_PERIOD"
	SubscriptionStatusExpired     SubscriptionStatus = "EXPIRED"
	SubscriptionStatusCancelled   SubscriptionStatus = "CANCELLED"
)

type PaymentGateway string

const (
	GatewayRazorpay PaymentGateway = "RAZORPAY"
	GatewayNone     PaymentGateway = "NONE"
)

type PlanChangeType string

const (
	PlanChangeUpgrade   PlanChangeType = "UPGRADE"
	PlanChangeDowngrade PlanChangeType = "DOWNGRADE"
)

// Subscription is the central mutable entity. History rows are never deleted;
// a plan change cancels the old row and inserts a new one.
type Subscription struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	PlanID         string             `json:"plan_id"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	Status         SubscriptionStatus `json:"status"`
	AutoRenew      bool               `json:"auto_renew"`
	PaymentGateway PaymentGateway     `json:"payment_gateway"`
	// PaymentReference is the remote subscription or order id.
	PaymentReference string     `json:"payment_reference,omitempty"`
	PreviousPlanID   string     `json:"previous_plan_id,omitempty"`
	UpgradeDate      *time.Time `json:"upgrade_date,omitempty"`
	CancelDate       *time.Time `json:"cancel_date,omitempty"`
	GracePeriodEnd   *time.Time `json:"grace_period_end,omitempty"`

	PendingPlanChangeTo   string         `json:"pending_plan_change_to,omitempty"`
	PendingPlanChangeDate *time.Time     `json:"pending_plan_change_date,omitempty"`
	PendingPlanChangeType PlanChangeType `json:"pending_plan_change_type,omitempty"`

	Events []LifecycleEvent `json:"events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubscription builds an ACTIVE row starting at now for one billing cycle.
func NewSubscription(userID string, plan *Plan, gateway PaymentGateway, now time.Time) (*Subscription, error) {
	if strings.TrimSpace(userID) == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if gateway != GatewayRazorpay && gateway != GatewayNone {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedGateway, gateway)
	}
	return &Subscription{
		ID:             uuid.NewString(),
		UserID:         userID,
		PlanID:         plan.ID,
		StartDate:      now,
		EndDate:        plan.BillingCycle.Advance(now),
		Status:         SubscriptionStatusActive,
		AutoRenew:      true,
		PaymentGateway: gateway,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Subscription) HasPendingChange() bool {
	return s.PendingPlanChangeTo != ""
}

func (s *Subscription) ClearPendingChange() {
	s.PendingPlanChangeTo = ""
	s.PendingPlanChangeDate = nil
	s.PendingPlanChangeType = ""
}

// IsGatewayBacked reports whether a remote recurring subscription exists.
func (s *Subscription) IsGatewayBacked() bool {
	return s.PaymentGateway != GatewayNone && s.PaymentGateway != "" && s.PaymentReference != ""
}

func (s *Subscription) Record(e LifecycleEvent) {
	s.Events = append(s.Events, e)
}

// ReplacedBy returns the id of the row that superseded this one, if any.
func (s *Subscription) ReplacedBy() string {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if id := s.Events[i].replacedBy(); id != "" {
			return id
		}
	}
	return ""
}

// ConvertedToPaid reports whether this freemium row was replaced by a paid plan.
func (s *Subscription) ConvertedToPaid() bool {
	for _, e := range s.Events {
		if e.Kind == EventFreemiumConversion && e.FreemiumConversion != nil && e.FreemiumConversion.ConvertedToPaid {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.UpgradeDate = cloneTime(s.UpgradeDate)
	c.CancelDate = cloneTime(s.CancelDate)
	c.GracePeriodEnd = cloneTime(s.GracePeriodEnd)
	c.PendingPlanChangeDate = cloneTime(s.PendingPlanChangeDate)
	c.Events = append([]LifecycleEvent(nil), s.Events...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubscriptionDetails is an ACTIVE row joined with plan display fields.
type SubscriptionDetails struct {
	Subscription    *Subscription `json:"subscription"`
	PlanName        string        `json:"plan_name"`
	PlanDescription string        `json:"plan_description"`
	BillingCycle    BillingCycle  `json:"billing_cycle"`
	IsFreemium      bool          `json:"is_freemium"`
	State           State         `json:"state"`
}
