package model

import (
	"fmt"

	"resume-billing/internal/domain"
)

// State is the lifecycle state derived from status and pending change fields.
type State string

const (
	StateActive                 State = "ACTIVE"
	StateActivePendingDowngrade State = "ACTIVE_PENDING_DOWNGRADE"
	StateGracePeriod            State = "GRACE_PERIOD"
	StateExpired                State = "EXPIRED"
	StateCancelled              State = "CANCELLED"
)

type transition struct {
	From State
	To   State
}

var validTransitions = map[transition]bool{
	{StateActive, StateActive}:                 true,
	{StateActive, StateActivePendingDowngrade}: true,
	{StateActive, StateGracePeriod}:            true,
	{StateActive, StateCancelled}:              true,

	{StateActivePendingDowngrade, StateActivePendingDowngrade}: true,
	{StateActivePendingDowngrade, StateActive}:                 true,
	{StateActivePendingDowngrade, StateGracePeriod}:            true,
	{StateActivePendingDowngrade, StateCancelled}:              true,

	{StateGracePeriod, StateExpired}:   true,
	{StateGracePeriod, StateCancelled}: true,
	{StateGracePeriod, StateActive}:    true,

	{StateExpired, StateActive}:   true,
	{StateCancelled, StateActive}: true,
}

func CanTransition(from, to State) bool {
	return validTransitions[transition{From: from, To: to}]
}

// State derives the lifecycle state of the row.
func (s *Subscription) State() State {
	switch s.Status {
	case SubscriptionStatusActive:
		if s.PendingPlanChangeTo != "" && s.PendingPlanChangeType == PlanChangeDowngrade {
			return StateActivePendingDowngrade
		}
		return StateActive
	case SubscriptionStatusGracePeriod:
		return StateGracePeriod
	case SubscriptionStatusExpired:
		return StateExpired
	default:
		return StateCancelled
	}
}

// Ensure checks that moving the row to target is allowed.
func (s *Subscription) Ensure(target State) error {
	from := s.State()
	if !CanTransition(from, target) {
		return fmt.Errorf("%w: %s -> %s (subscription %s)", domain.ErrInvalidTransition, from, target, s.ID)
	}
	return nil
}

// TransitionTo validates and applies a status change. Pending change fields
// are set by the caller before moving into ACTIVE_PENDING_DOWNGRADE.
func (s *Subscription) TransitionTo(target State) error {
	if err := s.Ensure(target); err != nil {
		return err
	}
	switch target {
	case StateActive, StateActivePendingDowngrade:
		s.Status = SubscriptionStatusActive
	case StateGracePeriod:
		s.Status = SubscriptionStatusGracePeriod
	case StateExpired:
		s.Status = SubscriptionStatusExpired
	case StateCancelled:
		s.Status = SubscriptionStatusCancelled
	}
	return nil
}
