package apiv1

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/infra/metrics"
	"resume-billing/internal/infra/redis"
	"resume-billing/internal/usecase"
)

type planRef struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type paymentRequest struct {
	PlanID                string `json:"plan_id" validate:"required"`
	PaymentID             string `json:"payment_id" validate:"required"`
	Gateway               string `json:"gateway" validate:"omitempty,oneof=RAZORPAY NONE"`
	Signature             string `json:"signature" validate:"omitempty,hexadecimal"`
	GatewaySubscriptionID string `json:"gateway_subscription_id"`
	OrderID               string `json:"order_id"`
	IsUpgrade             *bool  `json:"is_upgrade"`
}

func (p paymentRequest) toUseCase(userID string) usecase.UpgradeRequest {
	gw := model.PaymentGateway(p.Gateway)
	if gw == "" {
		gw = model.GatewayRazorpay
	}
	return usecase.UpgradeRequest{
		UserID:                userID,
		NewPlanID:             p.PlanID,
		PaymentID:             p.PaymentID,
		Gateway:               gw,
		Signature:             p.Signature,
		GatewaySubscriptionID: p.GatewaySubscriptionID,
		OrderID:               p.OrderID,
		IsUpgrade:             p.IsUpgrade,
	}
}

type consumeRequest struct {
	Units  int64  `json:"units" validate:"gte=0"`
	AIText string `json:"ai_text"`
}

type pricingDTO struct {
	Region   string `json:"region" validate:"required,oneof=GLOBAL INDIA"`
	Currency string `json:"currency" validate:"omitempty,len=3,uppercase"`
	Price    string `json:"price" validate:"required,numeric"`
}

type featureDTO struct {
	FeatureID      string `json:"feature_id" validate:"required"`
	FeatureKey     string `json:"feature_key"`
	LimitType      string `json:"limit_type" validate:"required,oneof=UNLIMITED COUNT BOOLEAN"`
	LimitValue     int64  `json:"limit_value" validate:"gte=0"`
	ResetFrequency string `json:"reset_frequency" validate:"omitempty,oneof=NEVER DAILY WEEKLY MONTHLY YEARLY"`
	Enabled        *bool  `json:"enabled"`
}

type planRequest struct {
	Name         string       `json:"name" validate:"required"`
	Description  string       `json:"description"`
	BillingCycle string       `json:"billing_cycle" validate:"required,oneof=MONTHLY YEARLY"`
	IsFreemium   bool         `json:"is_freemium"`
	IsActive     *bool        `json:"is_active"`
	BasePrice    string       `json:"base_price" validate:"required,numeric"`
	Pricing      []pricingDTO `json:"pricing" validate:"dive"`
	Features     []featureDTO `json:"features" validate:"dive"`
}

func (p planRequest) toModel(id string) (*model.Plan, error) {
	base, err := decimal.NewFromString(p.BasePrice)
	if err != nil {
		return nil, fmt.Errorf("%w: base_price: %v", domain.ErrInvalidArgument, err)
	}
	plan, err := model.NewPlan(id, p.Name, model.BillingCycle(p.BillingCycle), base, p.IsFreemium)
	if err != nil {
		return nil, err
	}
	plan.Description = p.Description
	if p.IsActive != nil {
		plan.IsActive = *p.IsActive
	}
	for _, pr := range p.Pricing {
		price, err := decimal.NewFromString(pr.Price)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("%w: price for %s", domain.ErrInvalidArgument, pr.Region)
		}
		plan.Pricing = append(plan.Pricing, model.PlanPricing{PlanID: id, Region: model.Region(pr.Region), Currency: pr.Currency, Price: price})
	}
	for _, f := range p.Features {
		freq := model.ResetFrequency(f.ResetFrequency)
		if freq == "" {
			freq = model.ResetNever
		}
		enabled := f.Enabled == nil || *f.Enabled
		plan.Features = append(plan.Features, model.PlanFeature{
			PlanID:         id,
			FeatureID:      f.FeatureID,
			FeatureKey:     f.FeatureKey,
			LimitType:      model.LimitType(f.LimitType),
			LimitValue:     f.LimitValue,
			ResetFrequency: freq,
			Enabled:        enabled,
		})
	}
	return plan, nil
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.Plans.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.Plans.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) planPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.Plans.PriceFor(r.Context(), chi.URLParam(r, "planID"), r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) getActiveSubscription(w http.ResponseWriter, r *http.Request) {
	details, err := s.Subscriptions.GetActiveSubscription(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) listSubscriptionHistory(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Subscriptions.ListSubscriptionHistory(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (s *Server) associatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRef
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Subscriptions.AssociateUserWithPlan(r.Context(), chi.URLParam(r, "userID"), req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.PendingPayment {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) activateFreePlan(w http.ResponseWriter, r *http.Request) {
	var req planRef
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.Subscriptions.ActivateFreePlan(r.Context(), chi.URLParam(r, "userID"), req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) calculateProration(w http.ResponseWriter, r *http.Request) {
	planID := strings.TrimSpace(r.URL.Query().Get("plan_id"))
	if planID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "plan_id query parameter is required"})
		return
	}
	decision, err := s.Subscriptions.CalculateProration(r.Context(), chi.URLParam(r, "userID"), planID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	s.pay(w, r, s.Subscriptions.UpgradeToPaidPlan)
}

func (s *Server) activatePaid(w http.ResponseWriter, r *http.Request) {
	s.pay(w, r, s.Subscriptions.ActivatePaidPlan)
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request, op func(context.Context, usecase.UpgradeRequest) (*usecase.UpgradeResult, error)) {
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := op(r.Context(), req.toUseCase(chi.URLParam(r, "userID")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kind := "first_paid"
	switch {
	case res.Duplicate:
		kind = "duplicate"
	case res.Previous != nil:
		kind = "upgrade"
	}
	metrics.IncPayment(kind)
	if !res.Duplicate && res.Transaction != nil {
		metrics.AddPaymentRevenue(res.Transaction.Currency, res.Transaction.Amount)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) scheduleDowngrade(w http.ResponseWriter, r *http.Request) {
	var req planRef
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Subscriptions.ScheduleDowngrade(r.Context(), chi.URLParam(r, "userID"), req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Subscriptions.CancelSubscription(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) listUsage(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Usage.ListUsage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (s *Server) checkFeature(w http.ResponseWriter, r *http.Request) {
	userID, featureID := userAndFeature(r)
	access, err := s.Usage.CheckFeatureAccess(r.Context(), userID, featureID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

func (s *Server) consumeFeature(w http.ResponseWriter, r *http.Request) {
	userID, featureID := userAndFeature(r)
	var req consumeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.Limiter != nil && s.RateLimit > 0 {
		ok, err := s.Limiter.Allow(r.Context(), redis.UserFeatureKey(userID, featureID), s.RateLimit, time.Minute)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !ok {
			metrics.IncRateLimitTriggered()
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
	}

	row, err := s.Usage.ConsumeFeature(r.Context(), usecase.ConsumeRequest{
		UserID:    userID,
		FeatureID: featureID,
		Units:     req.Units,
		AIText:    req.AIText,
	})
	if err != nil {
		result := "error"
		if domain.KindOf(err) == domain.KindValidation {
			result = "denied"
		}
		metrics.IncFeatureConsume(featureID, result)
		s.writeError(w, r, err)
		return
	}
	metrics.IncFeatureConsume(featureID, "ok")
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) savePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := req.toModel(chi.URLParam(r, "planID"))
	if err == nil {
		err = s.Plans.Save(r.Context(), plan)
	}
	if err != nil {
		metrics.IncAdminCommand("save_plan", "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncAdminCommand("save_plan", "ok")
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	if s.Cycle == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "cycle worker is not configured"})
		return
	}
	report, ran := s.Cycle.RunOnce(r.Context())
	if !ran {
		metrics.IncAdminCommand("cycle", "skipped")
		writeJSON(w, http.StatusConflict, errorBody{Error: "a cycle is already running"})
		return
	}
	metrics.IncAdminCommand("cycle", "ok")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runScheduledChanges(w http.ResponseWriter, r *http.Request) {
	stats := s.Subscriptions.ProcessScheduledChanges(r.Context())
	metrics.IncAdminCommand("scheduled_changes", "ok")
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) runUsageReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.Usage.ResetFeatureUsage(r.Context())
	if err != nil {
		metrics.IncAdminCommand("usage_reset", "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncAdminCommand("usage_reset", "ok")
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Subscriptions.CountByStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions_by_status": counts})
}
