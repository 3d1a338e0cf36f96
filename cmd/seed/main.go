package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"resume-billing/internal/config"
	"resume-billing/internal/domain/model"
	pg "resume-billing/internal/infra/db/postgres"
	"resume-billing/internal/infra/logging"
	"resume-billing/internal/usecase"
)

var force = flag.Bool("force", false, "overwrite plans that already exist")

type seedPlan struct {
	ID       string
	Name     string
	Desc     string
	Cycle    model.BillingCycle
	USD      string
	INR      string
	Freemium bool
	Features []model.PlanFeature
}

func count(id string, limit int64, reset model.ResetFrequency) model.PlanFeature {
	return model.PlanFeature{FeatureID: id, FeatureKey: id, LimitType: model.LimitCount, LimitValue: limit, ResetFrequency: reset, Enabled: true}
}

func flag01(id string, on bool) model.PlanFeature {
	v := int64(0)
	if on {
		v = 1
	}
	return model.PlanFeature{FeatureID: id, FeatureKey: id, LimitType: model.LimitBoolean, LimitValue: v, ResetFrequency: model.ResetNever, Enabled: true}
}

func unlimited(id string) model.PlanFeature {
	return model.PlanFeature{FeatureID: id, FeatureKey: id, LimitType: model.LimitUnlimited, ResetFrequency: model.ResetNever, Enabled: true}
}

var catalog = []seedPlan{
	{
		ID: "free", Name: "Free", Desc: "One resume, a few exports a month", Cycle: model.BillingCycleMonthly,
		USD: "0", INR: "0", Freemium: true,
		Features: []model.PlanFeature{
			count("resume_export", 3, model.ResetMonthly),
			count("ai_suggestions", 10, model.ResetMonthly),
			flag01("premium_templates", false),
			flag01("ats_check", false),
		},
	},
	{
		ID: "basic", Name: "Basic", Desc: "Unlimited resumes with AI help", Cycle: model.BillingCycleMonthly,
		USD: "9.99", INR: "499",
		Features: []model.PlanFeature{
			count("resume_export", 30, model.ResetMonthly),
			count("ai_suggestions", 100, model.ResetMonthly),
			count("cover_letter", 5, model.ResetMonthly),
			flag01("premium_templates", true),
			flag01("ats_check", false),
		},
	},
	{
		ID: "pro", Name: "Pro", Desc: "Everything, for active job seekers", Cycle: model.BillingCycleMonthly,
		USD: "29.99", INR: "1499",
		Features: []model.PlanFeature{
			unlimited("resume_export"),
			count("ai_suggestions", 1000, model.ResetMonthly),
			count("cover_letter", 50, model.ResetMonthly),
			flag01("premium_templates", true),
			flag01("ats_check", true),
		},
	},
	{
		ID: "pro_yearly", Name: "Pro (yearly)", Desc: "Pro billed once a year", Cycle: model.BillingCycleYearly,
		USD: "299.99", INR: "14999",
		Features: []model.PlanFeature{
			unlimited("resume_export"),
			count("ai_suggestions", 1000, model.ResetMonthly),
			count("cover_letter", 50, model.ResetMonthly),
			flag01("premium_templates", true),
			flag01("ats_check", true),
		},
	},
}

func main() {
	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPostgresPlanRepo(pool), pg.NewBillingDetailsRepo(pool), logger)

	existing, err := planUC.List(ctx)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(existing) > 0 && !*force {
		fmt.Printf("%d plans already present. No changes (use -force to overwrite).\n", len(existing))
		for _, p := range existing {
			fmt.Printf("  - %s %q cycle=%s price=%s freemium=%v\n", p.ID, p.Name, p.BillingCycle, p.BasePrice.StringFixed(2), p.IsFreemium)
		}
		return
	}

	for _, s := range catalog {
		p, err := model.NewPlan(s.ID, s.Name, s.Cycle, decimal.RequireFromString(s.USD), s.Freemium)
		if err != nil {
			log.Fatalf("build plan %q: %v", s.ID, err)
		}
		p.Description = s.Desc
		p.Pricing = []model.PlanPricing{
			{Region: model.RegionGlobal, Price: decimal.RequireFromString(s.USD)},
			{Region: model.RegionIndia, Price: decimal.RequireFromString(s.INR)},
		}
		p.Features = s.Features
		if err := planUC.Save(ctx, p); err != nil {
			log.Fatalf("save plan %q: %v", s.ID, err)
		}
		fmt.Printf("seeded: %s (%s, %s USD / %s INR, %d features)\n", p.ID, p.BillingCycle, s.USD, s.INR, len(p.Features))
	}

	fmt.Println("Seeding complete.")
}
