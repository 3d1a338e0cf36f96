package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// Advance returns t moved forward by one billing cycle.
func (c BillingCycle) Advance(t time.Time) time.Time {
	if c == BillingCycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

type LimitType string

const (
	LimitUnlimited LimitType = "UNLIMITED"
	LimitCount     LimitType = "COUNT"
	LimitBoolean   LimitType = "BOOLEAN"
)

type ResetFrequency string

const (
	ResetNever   ResetFrequency = "NEVER"
	ResetDaily   ResetFrequency = "DAILY"
	ResetWeekly  ResetFrequency = "WEEKLY"
	ResetMonthly ResetFrequency = "MONTHLY"
	ResetYearly  ResetFrequency = "YEARLY"
)

// Next returns the reset instant one increment after from, or nil for NEVER.
func (f ResetFrequency) Next(from time.Time) *time.Time {
	var next time.Time
	switch f {
	case ResetDaily:
		next = from.AddDate(0, 0, 1)
	case ResetWeekly:
		next = from.AddDate(0, 0, 7)
	case ResetMonthly:
		next = from.AddDate(0, 1, 0)
	case ResetYearly:
		next = from.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &next
}

// Plan is a catalog entry. The core never mutates plans.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
	IsFreemium   bool            `json:"is_freemium"`
	IsActive     bool            `json:"is_active"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Pricing      []PlanPricing   `json:"pricing,omitempty"`
	Features     []PlanFeature   `json:"features,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PlanPricing is a region-specific price point.
type PlanPricing struct {
	PlanID   string          `json:"plan_id"`
	Region   Region          `json:"region"`
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
}

// PlanFeature is a per-plan entitlement.
type PlanFeature struct {
	PlanID         string         `json:"plan_id"`
	FeatureID      string         `json:"feature_id"`
	FeatureKey     string         `json:"feature_key"`
	LimitType      LimitType      `json:"limit_type"`
	LimitValue     int64          `json:"limit_value"`
	ResetFrequency ResetFrequency `json:"reset_frequency"`
	Enabled        bool           `json:"enabled"`
}

func NewPlan(id, name string, cycle BillingCycle, basePrice decimal.Decimal, freemium bool) (*Plan, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" || !cycle.Valid() || basePrice.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Plan{
		ID:           id,
		Name:         name,
		BillingCycle: cycle,
		IsFreemium:   freemium,
		IsActive:     true,
		BasePrice:    basePrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// IsFree reports whether the plan can be activated without payment:
// either flagged freemium or every known price is zero.
func (p *Plan) IsFree() bool {
	if p.IsFreemium {
		return true
	}
	if !p.BasePrice.IsZero() {
		return false
	}
	for _, pr := range p.Pricing {
		if !pr.Price.IsZero() {
			return false
		}
	}
	return true
}

// PriceFor resolves the plan's price for region, falling back to the
// GLOBAL row and then to the base price.
func (p *Plan) PriceFor(region Region) Price {
	var global *PlanPricing
	for i := range p.Pricing {
		pr := &p.Pricing[i]
		if pr.Region == region {
			return Price{Amount: pr.Price, Currency: currencyOr(pr.Currency, region), Region: region}
		}
		if pr.Region == RegionGlobal {
			global = pr
		}
	}
	if global != nil {
		return Price{Amount: global.Price, Currency: currencyOr(global.Currency, RegionGlobal), Region: RegionGlobal}
	}
	return Price{Amount: p.BasePrice, Currency: CurrencyForRegion(RegionGlobal), Region: RegionGlobal}
}

// ComparablePrices resolves current and next in one currency for region.
// A zero price compares in any currency. When the regional rows disagree on
// currency both plans fall back to their GLOBAL price.
func ComparablePrices(region Region, current, next *Plan) (Price, Price, error) {
	cp, np := current.PriceFor(region), next.PriceFor(region)
	if cp.Currency == np.Currency || cp.Amount.IsZero() || np.Amount.IsZero() {
		return cp, np, nil
	}
	cp, np = current.PriceFor(RegionGlobal), next.PriceFor(RegionGlobal)
	if cp.Currency != np.Currency {
		return cp, np, fmt.Errorf("%w: %s is priced in %s but %s in %s",
			domain.ErrInvalidArgument, current.ID, cp.Currency, next.ID, np.Currency)
	}
	return cp, np, nil
}

// RegionalCurrency labels zero-amount transactions: the currency of the
// plan's own row for region, else the region's default currency.
func (p *Plan) RegionalCurrency(region Region) string {
	if pr := p.PriceFor(region); pr.Region == region {
		return pr.Currency
	}
	return CurrencyForRegion(region)
}

// CountFeatures returns every COUNT-type feature, enabled or not. Disabled
// ones still get a ledger row so re-enabling them needs no backfill.
func (p *Plan) CountFeatures() []PlanFeature {
	var out []PlanFeature
	for _, f := range p.Features {
		if f.LimitType == LimitCount {
			out = append(out, f)
		}
	}
	return out
}

func (p *Plan) Feature(featureID string) (PlanFeature, bool) {
	for _, f := range p.Features {
		if f.FeatureID == featureID {
			return f, true
		}
	}
	return PlanFeature{}, false
}

func currencyOr(c string, region Region) string {
	if c != "" {
		return c
	}
	return CurrencyForRegion(region)
}
