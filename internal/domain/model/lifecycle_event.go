package model

import (
	"fmt"
	"time"

	"resume-billing/internal/domain"
)

// LifecycleEventKind discriminates the payload of a LifecycleEvent.
type LifecycleEventKind string

const (
	EventFreemiumActivation LifecycleEventKind = "FREEMIUM_ACTIVATION"
	EventUpgrade            LifecycleEventKind = "UPGRADE"
	EventScheduledDowngrade LifecycleEventKind = "SCHEDULED_DOWNGRADE"
	EventCancellation       LifecycleEventKind = "CANCELLATION"
	EventFreemiumConversion LifecycleEventKind = "FREEMIUM_CONVERSION"
	EventRenewal            LifecycleEventKind = "RENEWAL"
	EventStateChange        LifecycleEventKind = "STATE_CHANGE"
)

// LifecycleEvent is one append-only audit record on a subscription.
// Exactly one payload matching Kind is set.
type LifecycleEvent struct {
	Kind LifecycleEventKind `json:"kind"`
	At   time.Time          `json:"at"`

	FreemiumActivation *FreemiumActivationEvent `json:"freemium_activation,omitempty"`
	Upgrade            *UpgradeEvent            `json:"upgrade,omitempty"`
	ScheduledDowngrade *ScheduledDowngradeEvent `json:"scheduled_downgrade,omitempty"`
	Cancellation       *CancellationEvent       `json:"cancellation,omitempty"`
	FreemiumConversion *FreemiumConversionEvent `json:"freemium_conversion,omitempty"`
	Renewal            *RenewalEvent            `json:"renewal,omitempty"`
	StateChange        *StateChangeEvent        `json:"state_change,omitempty"`
}

type FreemiumActivationEvent struct {
	PlanID       string `json:"plan_id"`
	Reactivated  bool   `json:"reactivated"`
	SupersededID string `json:"superseded_id,omitempty"`
	ReplacedBy   string `json:"replaced_by,omitempty"`
}

// UpgradeEvent is recorded on both rows of a paid plan change. The new row
// carries Replaces, the old row carries ReplacedBy.
type UpgradeEvent struct {
	FromPlanID string `json:"from_plan_id,omitempty"`
	ToPlanID   string `json:"to_plan_id"`
	PaymentID  string `json:"payment_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	IsUpgrade  bool   `json:"is_upgrade"`
	Replaces   string `json:"replaces,omitempty"`
	ReplacedBy string `json:"replaced_by,omitempty"`
}

type ScheduledDowngradeEvent struct {
	FromPlanID  string    `json:"from_plan_id"`
	ToPlanID    string    `json:"to_plan_id"`
	EffectiveAt time.Time `json:"effective_at"`
	Applied     bool      `json:"applied"`
	Replaces    string    `json:"replaces,omitempty"`
	ReplacedBy  string    `json:"replaced_by,omitempty"`
}

type CancellationEvent struct {
	AtCycleEnd   bool      `json:"at_cycle_end"`
	EffectiveAt  time.Time `json:"effective_at"`
	GatewayError string    `json:"gateway_error,omitempty"`
}

type FreemiumConversionEvent struct {
	ReplacedBy      string `json:"replaced_by"`
	NewPlanID       string `json:"new_plan_id"`
	ConvertedToPaid bool   `json:"converted_to_paid"`
}

type RenewalEvent struct {
	PreviousEndDate time.Time `json:"previous_end_date"`
	NewEndDate      time.Time `json:"new_end_date"`
}

type StateChangeEvent struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

func NewFreemiumActivationEvent(at time.Time, p FreemiumActivationEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventFreemiumActivation, At: at, FreemiumActivation: &p}
}

func NewUpgradeEvent(at time.Time, p UpgradeEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventUpgrade, At: at, Upgrade: &p}
}

func NewScheduledDowngradeEvent(at time.Time, p ScheduledDowngradeEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventScheduledDowngrade, At: at, ScheduledDowngrade: &p}
}

func NewCancellationEvent(at time.Time, p CancellationEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventCancellation, At: at, Cancellation: &p}
}

func NewFreemiumConversionEvent(at time.Time, p FreemiumConversionEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventFreemiumConversion, At: at, FreemiumConversion: &p}
}

func NewRenewalEvent(at time.Time, p RenewalEvent) LifecycleEvent {
	return LifecycleEvent{Kind: EventRenewal, At: at, Renewal: &p}
}

func NewStateChangeEvent(at time.Time, from, to State, reason string) LifecycleEvent {
	return LifecycleEvent{Kind: EventStateChange, At: at, StateChange: &StateChangeEvent{From: from, To: to, Reason: reason}}
}

// Validate checks that exactly the payload named by Kind is present.
func (e LifecycleEvent) Validate() error {
	set := 0
	for _, present := range []bool{
		e.FreemiumActivation != nil, e.Upgrade != nil, e.ScheduledDowngrade != nil,
		e.Cancellation != nil, e.FreemiumConversion != nil, e.Renewal != nil, e.StateChange != nil,
	} {
		if present {
			set++
		}
	}
	var ok bool
	switch e.Kind {
	case EventFreemiumActivation:
		ok = e.FreemiumActivation != nil
	case EventUpgrade:
		ok = e.Upgrade != nil
	case EventScheduledDowngrade:
		ok = e.ScheduledDowngrade != nil
	case EventCancellation:
		ok = e.Cancellation != nil
	case EventFreemiumConversion:
		ok = e.FreemiumConversion != nil
	case EventRenewal:
		ok = e.Renewal != nil
	case EventStateChange:
		ok = e.StateChange != nil
	}
	if !ok || set != 1 {
		return fmt.Errorf("%w: malformed lifecycle event %q", domain.ErrInvalidArgument, e.Kind)
	}
	return nil
}

func (e LifecycleEvent) replacedBy() string {
	switch {
	case e.FreemiumConversion != nil:
		return e.FreemiumConversion.ReplacedBy
	case e.Upgrade != nil:
		return e.Upgrade.ReplacedBy
	case e.ScheduledDowngrade != nil:
		return e.ScheduledDowngrade.ReplacedBy
	case e.FreemiumActivation != nil:
		return e.FreemiumActivation.ReplacedBy
	}
	return ""
}
