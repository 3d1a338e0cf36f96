package model

import "time"

const (
	NotificationSubscriptionActivated          = "subscription_activated"
	NotificationSubscriptionUpgraded           = "subscription_upgraded"
	NotificationSubscriptionDowngradeScheduled = "subscription_downgrade_scheduled"
	NotificationSubscriptionDowngraded         = "subscription_downgraded"
	NotificationSubscriptionCancelled          = "subscription_cancelled"
	NotificationSubscriptionRenewed            = "subscription_renewed"
	NotificationSubscriptionGracePeriod        = "subscription_grace_period"
	NotificationSubscriptionExpired            = "subscription_expired"

	CategorySubscription = "subscription"
	CategoryBilling      = "billing"
)

type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Category    string            `json:"category"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type AdminEvent struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	SubscriptionID string `json:"subscription_id"`
	Amount         string `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	Message        string `json:"message"`
}

type AuditEntry struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Action         string            `json:"action"`
	Details        map[string]string `json:"details,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type EffectKind string

const (
	EffectNotifyUser   EffectKind = "notify_user"
	EffectNotifyAdmins EffectKind = "notify_admins"
	EffectAudit        EffectKind = "audit"
)

// Effect is a best-effort side channel produced by a committed mutation.
type Effect struct {
	Kind         EffectKind
	Notification *Notification
	AdminEvent   *AdminEvent
	Audit        *AuditEntry
}

func NotifyUser(n Notification) Effect { return Effect{Kind: EffectNotifyUser, Notification: &n} }
func NotifyAdmins(e AdminEvent) Effect { return Effect{Kind: EffectNotifyAdmins, AdminEvent: &e} }
func AuditEffect(a AuditEntry) Effect  { return Effect{Kind: EffectAudit, Audit: &a} }
