package model

import "time"

// UserBillingDetails is read only to resolve the pricing region.
type UserBillingDetails struct {
	UserID       string    `json:"user_id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Country      string    `json:"country"`
	AddressLine1 string    `json:"address_line1"`
	City         string    `json:"city"`
	PostalCode   string    `json:"postal_code"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b *UserBillingDetails) Region() Region {
	if b == nil {
		return RegionGlobal
	}
	return RegionForCountry(b.Country)
}

const SelectionPendingPayment = "pending_payment"

// PendingPlanSelection records that a user chose a paid plan and still owes payment.
type PendingPlanSelection struct {
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
