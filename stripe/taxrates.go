package stripe

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/taxrate"
	"github.com/vocdoni/saas-billing/log"
)

const (
	taxRatesCacheSize   = 64
	taxRateDisplayName  = "Tax"
	taxRateDescription  = "billing tax"
	maxTaxPercent       = 100
	taxPercentPrecision = 4
)

// TaxRates maps tax percentages to exclusive Stripe tax rates, creating them
// when Stripe has none with that percentage.
type TaxRates struct {
	client *taxrate.Client
	cache  *lru.Cache[string, string]
	// held while looking up or creating an uncached percentage
	mu sync.Mutex
}

// NewTaxRates returns a resolver using the tax rates API of the client.
func NewTaxRates(c *Client) *TaxRates {
	cache, err := lru.New[string, string](taxRatesCacheSize)
	if err != nil {
		// only fails with a non positive size
		panic(err)
	}
	return &TaxRates{client: c.api.TaxRates, cache: cache}
}

// Resolve returns the id of the active exclusive tax rate for percent. A zero
// percent resolves to the empty id, meaning no tax.
func (t *TaxRates) Resolve(ctx context.Context, percent decimal.Decimal) (string, error) {
	if !validTaxPercent(percent) {
		return "", ErrInvalidTaxPercent
	}
	if percent.IsZero() {
		return "", nil
	}
	key := percent.Round(taxPercentPrecision).String()
	if id, ok := t.cache.Get(key); ok {
		return id, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.cache.Get(key); ok {
		return id, nil
	}
	id, err := t.find(ctx, percent)
	if err != nil {
		return "", err
	}
	if id == "" {
		if id, err = t.create(ctx, percent); err != nil {
			return "", err
		}
	}
	t.cache.Add(key, id)
	return id, nil
}

func (t *TaxRates) find(ctx context.Context, percent decimal.Decimal) (string, error) {
	params := &stripeapi.TaxRateListParams{
		ListParams: stripeapi.ListParams{Context: ctx},
		Active:     stripeapi.Bool(true),
		Inclusive:  stripeapi.Bool(false),
	}
	params.Filters.AddFilter("limit", "", "100")
	i := t.client.List(params)
	for i.Next() {
		rate := i.TaxRate()
		if !rate.Active || rate.Inclusive {
			continue
		}
		if decimal.NewFromFloat(rate.Percentage).Round(taxPercentPrecision).Equal(percent.Round(taxPercentPrecision)) {
			return rate.ID, nil
		}
	}
	if err := i.Err(); err != nil {
		return "", NewStripeError(ErrAPICallFailed.Code, "failed to list tax rates", err)
	}
	return "", nil
}

func (t *TaxRates) create(ctx context.Context, percent decimal.Decimal) (string, error) {
	value, _ := percent.Round(taxPercentPrecision).Float64()
	rate, err := t.client.New(&stripeapi.TaxRateParams{
		Params:      stripeapi.Params{Context: ctx},
		DisplayName: stripeapi.String(taxRateDisplayName),
		Description: stripeapi.String(fmt.Sprintf("%s %s%%", taxRateDescription, percent.String())),
		Percentage:  stripeapi.Float64(value),
		Inclusive:   stripeapi.Bool(false),
		Active:      stripeapi.Bool(true),
	})
	if err != nil {
		return "", NewStripeError(ErrAPICallFailed.Code, "failed to create tax rate", err)
	}
	log.Infow("stripe tax rate created", "taxRate", rate.ID, "percent", percent.String())
	return rate.ID, nil
}

func validTaxPercent(percent decimal.Decimal) bool {
	return !percent.IsNegative() && percent.LessThanOrEqual(decimal.NewFromInt(maxTaxPercent))
}
