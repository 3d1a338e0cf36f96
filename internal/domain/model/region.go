package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Region string

const (
	RegionGlobal Region = "GLOBAL"
	RegionIndia  Region = "INDIA"
)

const DefaultCurrency = "USD"

// RegionForCountry maps a billing country code to a pricing region.
func RegionForCountry(country string) Region {
	if strings.EqualFold(strings.TrimSpace(country), "IN") {
		return RegionIndia
	}
	return RegionGlobal
}

// CurrencyForRegion is the single source of region currency defaults.
func CurrencyForRegion(r Region) string {
	if r == RegionIndia {
		return "INR"
	}
	return DefaultCurrency
}

// Price is a resolved amount for a region.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Region   Region          `json:"region"`
}

// PricingDecision is the outcome of a plan change price check.
// Amount due is always the full new price; no credit is ever granted.
type PricingDecision struct {
	UserID                string          `json:"user_id"`
	CurrentPlanID         string          `json:"current_plan_id,omitempty"`
	NewPlanID             string          `json:"new_plan_id"`
	Region                Region          `json:"region"`
	CurrentPrice          decimal.Decimal `json:"current_price"`
	NewPrice              decimal.Decimal `json:"new_price"`
	Currency              string          `json:"currency"`
	AmountDue             decimal.Decimal `json:"amount_due"`
	DueCurrency           string          `json:"due_currency"`
	Credit                decimal.Decimal `json:"credit"`
	IsUpgrade             bool            `json:"is_upgrade"`
	NoCurrentSubscription bool            `json:"no_current_subscription"`
}
