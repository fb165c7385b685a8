// Package main provides a CLI tool to manage the subscription plans stored in
// the billing database. It supports two modes:
// 1. List mode: prints every plan as JSON
// 2. Upsert mode: creates or updates the plan with the given id
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/internal/storage"
	"github.com/vocdoni/saas-billing/log"
)

var planTypes = map[string]db.PlanType{
	"free":     db.PlanTypeFree,
	"monthly":  db.PlanTypeMonthly,
	"yearly":   db.PlanTypeYearly,
	"donation": db.PlanTypeDonation,
}

func main() {
	// Define command-line flags
	flag.String("dbDriver", storage.DriverMongo, "database driver (mongo or postgres)")
	flag.StringP("mongoURL", "m", "", "MongoDB connection URL")
	flag.StringP("mongoDB", "d", "billing", "MongoDB database name")
	flag.String("postgresDSN", "", "Postgres DSN")
	flag.BoolP("list", "l", false, "list the stored plans")
	flag.StringP("planID", "i", "", "id of the plan to create or update")
	flag.String("name", "", "plan name")
	flag.String("stripePrice", "", "Stripe price id billed by the plan")
	flag.String("type", "monthly", "plan type (free, monthly, yearly or donation)")
	flag.String("basePrice", "0", "plan base price")
	flag.Int("trialDays", 0, "trial days, zero for no trial")
	flag.Bool("disabled", false, "hide the plan from new customers")

	// Parse flags
	flag.Parse()

	// Initialize Viper for environment variable support
	viper.SetEnvPrefix("BILLING")
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		log.Fatalf("could not bind flags: %v", err)
	}
	viper.AutomaticEnv()
	log.Init("info", "stdout", nil)

	database, err := storage.Open(storage.Config{
		Driver:      viper.GetString("dbDriver"),
		MongoURL:    viper.GetString("mongoURL"),
		MongoDB:     viper.GetString("mongoDB"),
		PostgresDSN: viper.GetString("postgresDSN"),
	})
	if err != nil {
		log.Fatalf("could not open the database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if viper.GetBool("list") {
		if err := listPlans(ctx, database); err != nil {
			log.Fatalf("could not list plans: %v", err)
		}
		return
	}
	plan, err := planFromFlags()
	if err != nil {
		log.Fatal(err)
	}
	if err := upsertPlan(ctx, database, plan); err != nil {
		log.Fatalf("could not save plan: %v", err)
	}
	log.Infow("plan saved", "id", plan.ID, "name", plan.Name, "stripePrice", plan.StripePlanID)
}

func planFromFlags() (*db.SubscriptionPlan, error) {
	id := viper.GetString("planID")
	if id == "" {
		return nil, fmt.Errorf("planID is required")
	}
	planType, ok := planTypes[viper.GetString("type")]
	if !ok {
		return nil, fmt.Errorf("unknown plan type %q", viper.GetString("type"))
	}
	price, err := decimal.NewFromString(viper.GetString("basePrice"))
	if err != nil {
		return nil, fmt.Errorf("invalid base price: %w", err)
	}
	plan := &db.SubscriptionPlan{
		ID:           id,
		Name:         viper.GetString("name"),
		StripePlanID: viper.GetString("stripePrice"),
		Type:         planType,
		BasePrice:    price,
		Disabled:     viper.GetBool("disabled"),
	}
	if days := viper.GetInt("trialDays"); days > 0 {
		plan.TrialPeriodDays = &days
	}
	return plan, nil
}

func upsertPlan(ctx context.Context, database db.Database, plan *db.SubscriptionPlan) error {
	dc := database.NewContext()
	current, err := dc.SubscriptionPlans().Find(ctx, plan.ID)
	switch {
	case stderrors.Is(err, db.ErrNotFound):
		plan.CreatedAt = time.Now()
		dc.SubscriptionPlans().Add(plan)
	case err != nil:
		return err
	default:
		plan.CreatedAt = current.CreatedAt
		dc.SubscriptionPlans().Update(plan)
	}
	_, err = dc.SaveChanges(ctx)
	return err
}

func listPlans(ctx context.Context, database db.Database) error {
	plans, err := database.NewContext().SubscriptionPlans().All(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(plans, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
