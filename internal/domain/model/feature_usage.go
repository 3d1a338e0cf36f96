package model

import (
	"time"

	"github.com/google/uuid"
)

// FeatureUsage counts consumption of one COUNT-type feature for one user.
type FeatureUsage struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	FeatureID      string         `json:"feature_id"`
	UsageCount     int64          `json:"usage_count"`
	AITokenCount   int64          `json:"ai_token_count"`
	ResetFrequency ResetFrequency `json:"reset_frequency"`
	ResetDate      *time.Time     `json:"reset_date,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewFeatureUsage starts a zeroed counter whose first reset is one increment after now.
func NewFeatureUsage(userID string, f PlanFeature, now time.Time) *FeatureUsage {
	return &FeatureUsage{
		ID:             uuid.NewString(),
		UserID:         userID,
		FeatureID:      f.FeatureID,
		ResetFrequency: f.ResetFrequency,
		ResetDate:      f.ResetFrequency.Next(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AdvanceReset zeroes the counters and moves the reset date one increment
// past its previous value.
func (u *FeatureUsage) AdvanceReset(now time.Time) {
	u.UsageCount = 0
	u.AITokenCount = 0
	if u.ResetDate != nil {
		u.ResetDate = u.ResetFrequency.Next(*u.ResetDate)
	}
	u.UpdatedAt = now
}

// FeatureAccess is the answer the feature gate acts on.
type FeatureAccess struct {
	UserID        string    `json:"user_id"`
	FeatureID     string    `json:"feature_id"`
	PlanID        string    `json:"plan_id"`
	Allowed       bool      `json:"allowed"`
	LimitType     LimitType `json:"limit_type"`
	Limit         int64     `json:"limit"`
	Used          int64     `json:"used"`
	Remaining     int64     `json:"remaining"`
	InGracePeriod bool      `json:"in_grace_period"`
	DeniedBecause string    `json:"denied_because,omitempty"`
}
