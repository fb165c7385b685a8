package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/log"
)

const (
	prorationCreate = "create_prorations"
	prorationNone   = "none"
	// metadataUserID links a Stripe subscription to the local user.
	metadataUserID = "userID"
)

// SubscriptionBackend is the part of the Stripe subscriptions API used by
// the provider. *subscription.Client implements it.
type SubscriptionBackend interface {
	New(params *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error)
	Get(id string, params *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error)
	Update(id string, params *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error)
	Cancel(id string, params *stripeapi.SubscriptionCancelParams) (*stripeapi.Subscription, error)
}

// TaxRateResolver turns a tax percent into a Stripe tax rate id. The empty
// id means no tax.
type TaxRateResolver interface {
	Resolve(ctx context.Context, percent decimal.Decimal) (string, error)
}

// SubscriptionProvider manages the subscriptions of the billing customers on
// Stripe. It keeps no state besides the configured clients.
type SubscriptionProvider struct {
	subscriptions SubscriptionBackend
	taxRates      TaxRateResolver
	now           func() time.Time
}

// NewSubscriptionProvider returns a provider using the API handle of c.
func NewSubscriptionProvider(c *Client) *SubscriptionProvider {
	return newSubscriptionProvider(c.api.Subscriptions, NewTaxRates(c))
}

func newSubscriptionProvider(backend SubscriptionBackend, taxRates TaxRateResolver) *SubscriptionProvider {
	return &SubscriptionProvider{
		subscriptions: backend,
		taxRates:      taxRates,
		now:           time.Now,
	}
}

// SubscribeUser subscribes the user to planID with a trial of trialDays days
// from now. Zero days ends the trial right away, negative ones are rejected.
func (p *SubscriptionProvider) SubscribeUser(ctx context.Context, user *db.User, planID string,
	trialDays int, taxPercent decimal.Decimal,
) (string, error) {
	if trialDays < 0 {
		return "", fmt.Errorf("%d days: %w", trialDays, ErrInvalidTrial)
	}
	params, err := p.newSubscriptionParams(ctx, user, planID, taxPercent)
	if err != nil {
		return "", err
	}
	if trialDays > 0 {
		params.TrialEnd = stripeapi.Int64(p.now().AddDate(0, 0, trialDays).Unix())
	} else {
		params.TrialEndNow = stripeapi.Bool(true)
	}
	return p.create(user, planID, params)
}

// SubscribeUserUntil subscribes the user to planID with a trial ending at
// trialEnds. A nil trialEnds leaves the trial to the plan defaults.
func (p *SubscriptionProvider) SubscribeUserUntil(ctx context.Context, user *db.User, planID string,
	trialEnds *time.Time, taxPercent decimal.Decimal,
) (string, error) {
	params, err := p.newSubscriptionParams(ctx, user, planID, taxPercent)
	if err != nil {
		return "", err
	}
	if trialEnds != nil {
		params.TrialEnd = stripeapi.Int64(trialEnds.Unix())
	}
	return p.create(user, planID, params)
}

// SubscribeUserNaturalMonth subscribes the user to planID with the billing
// cycle anchored at anchor, so invoices are issued on that day of the month.
func (p *SubscriptionProvider) SubscribeUserNaturalMonth(ctx context.Context, user *db.User, planID string,
	anchor *time.Time, taxPercent decimal.Decimal,
) (*SubscriptionInfo, error) {
	params, err := p.newSubscriptionParams(ctx, user, planID, taxPercent)
	if err != nil {
		return nil, err
	}
	if anchor != nil {
		params.BillingCycleAnchor = stripeapi.Int64(anchor.Unix())
	}
	sub, err := p.subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("cannot subscribe customer %s to %s: %w", user.StripeCustomerID, planID, err)
	}
	log.Infow("stripe subscription created", "subscription", sub.ID, "customer", user.StripeCustomerID,
		"plan", planID, "anchor", anchor)
	return newSubscriptionInfo(sub), nil
}

// UserSubscriptions is not supported, subscriptions are listed from the
// local records instead. It always returns ErrListNotSupported.
func (*SubscriptionProvider) UserSubscriptions(_ context.Context, _ string) ([]*SubscriptionInfo, error) {
	return nil, ErrListNotSupported
}

// EndSubscription cancels the subscription. At period end, it returns the
// end time reported by Stripe. Otherwise the subscription is canceled
// immediately and the local current time is returned.
func (p *SubscriptionProvider) EndSubscription(ctx context.Context, customerID, subscriptionID string,
	atPeriodEnd bool,
) (time.Time, error) {
	if _, err := p.owned(ctx, customerID, subscriptionID); err != nil {
		return time.Time{}, err
	}
	if !atPeriodEnd {
		if _, err := p.subscriptions.Cancel(subscriptionID, &stripeapi.SubscriptionCancelParams{
			Params: stripeapi.Params{Context: ctx},
		}); err != nil {
			return time.Time{}, fmt.Errorf("cannot cancel subscription %s: %w", subscriptionID, err)
		}
		log.Infow("stripe subscription canceled", "subscription", subscriptionID, "customer", customerID)
		return p.now(), nil
	}
	sub, err := p.subscriptions.Update(subscriptionID, &stripeapi.SubscriptionParams{
		Params:            stripeapi.Params{Context: ctx},
		CancelAtPeriodEnd: stripeapi.Bool(true),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot cancel subscription %s at period end: %w", subscriptionID, err)
	}
	end := newSubscriptionInfo(sub).EndsAt()
	if end.IsZero() {
		return time.Time{}, ErrNoEndDate
	}
	log.Infow("stripe subscription scheduled to end", "subscription", subscriptionID, "customer", customerID,
		"endsAt", end)
	return end, nil
}

// UpdateSubscription moves the subscription to newPlanID. A trial that has
// not elapsed yet is kept. Failures are reported in the result.
func (p *SubscriptionProvider) UpdateSubscription(ctx context.Context, customerID, subscriptionID,
	newPlanID string, prorate bool,
) Result {
	if newPlanID == "" {
		return p.failure("update plan", subscriptionID, ErrMissingPlan)
	}
	current, err := p.owned(ctx, customerID, subscriptionID)
	if err != nil {
		return p.failure("update plan", subscriptionID, err)
	}
	item := firstItem(current)
	if item == nil {
		return p.failure("update plan", subscriptionID, ErrNoSubscriptionItems)
	}
	if itemPlanID(item) == newPlanID {
		return Result{Outcome: OutcomeNoop, Subscription: newSubscriptionInfo(current)}
	}
	params := &stripeapi.SubscriptionParams{
		Params: stripeapi.Params{Context: ctx},
		Items: []*stripeapi.SubscriptionItemsParams{{
			ID:    stripeapi.String(item.ID),
			Price: stripeapi.String(newPlanID),
		}},
		ProrationBehavior: stripeapi.String(prorationNone),
	}
	if prorate {
		params.ProrationBehavior = stripeapi.String(prorationCreate)
	}
	if current.TrialEnd > 0 && time.Unix(current.TrialEnd, 0).After(p.now()) {
		params.TrialEnd = stripeapi.Int64(current.TrialEnd)
	}
	updated, err := p.subscriptions.Update(subscriptionID, params)
	if err != nil {
		return p.failure("update plan", subscriptionID, err)
	}
	log.Infow("stripe subscription plan changed", "subscription", subscriptionID, "plan", newPlanID,
		"prorate", prorate)
	return Result{Outcome: OutcomeApplied, Subscription: newSubscriptionInfo(updated)}
}

// UpdateSubscriptionTax replaces the tax rates of the subscription with the
// one of taxPercent. Zero removes every tax rate. Failures are reported in
// the result.
func (p *SubscriptionProvider) UpdateSubscriptionTax(ctx context.Context, customerID, subscriptionID string,
	taxPercent decimal.Decimal,
) Result {
	current, err := p.owned(ctx, customerID, subscriptionID)
	if err != nil {
		return p.failure("update tax", subscriptionID, err)
	}
	rateID, err := p.taxRates.Resolve(ctx, taxPercent)
	if err != nil {
		return p.failure("update tax", subscriptionID, err)
	}
	info := newSubscriptionInfo(current)
	switch {
	case rateID == "" && len(info.TaxRateIDs) == 0,
		len(info.TaxRateIDs) == 1 && info.TaxRateIDs[0] == rateID:
		return Result{Outcome: OutcomeNoop, Subscription: info}
	}
	params := &stripeapi.SubscriptionParams{Params: stripeapi.Params{Context: ctx}}
	if rateID == "" {
		params.AddExtra("default_tax_rates", "")
	} else {
		params.DefaultTaxRates = []*string{stripeapi.String(rateID)}
	}
	updated, err := p.subscriptions.Update(subscriptionID, params)
	if err != nil {
		return p.failure("update tax", subscriptionID, err)
	}
	log.Infow("stripe subscription tax changed", "subscription", subscriptionID, "taxPercent", taxPercent.String())
	return Result{Outcome: OutcomeApplied, Subscription: newSubscriptionInfo(updated)}
}

func (p *SubscriptionProvider) newSubscriptionParams(ctx context.Context, user *db.User, planID string,
	taxPercent decimal.Decimal,
) (*stripeapi.SubscriptionParams, error) {
	if user == nil || user.StripeCustomerID == "" {
		return nil, ErrMissingCustomer
	}
	if planID == "" {
		return nil, ErrMissingPlan
	}
	params := &stripeapi.SubscriptionParams{
		Params:   stripeapi.Params{Context: ctx},
		Customer: stripeapi.String(user.StripeCustomerID),
		Items: []*stripeapi.SubscriptionItemsParams{{
			Price: stripeapi.String(planID),
		}},
	}
	params.AddMetadata(metadataUserID, user.ID)
	rateID, err := p.taxRates.Resolve(ctx, taxPercent)
	if err != nil {
		return nil, err
	}
	if rateID != "" {
		params.DefaultTaxRates = []*string{stripeapi.String(rateID)}
	}
	return params, nil
}

func (p *SubscriptionProvider) create(user *db.User, planID string, params *stripeapi.SubscriptionParams) (string, error) {
	sub, err := p.subscriptions.New(params)
	if err != nil {
		return "", fmt.Errorf("cannot subscribe customer %s to %s: %w", user.StripeCustomerID, planID, err)
	}
	log.Infow("stripe subscription created", "subscription", sub.ID, "customer", user.StripeCustomerID,
		"plan", planID)
	return sub.ID, nil
}

// owned fetches the subscription and checks it belongs to customerID.
func (p *SubscriptionProvider) owned(ctx context.Context, customerID, subscriptionID string) (*stripeapi.Subscription, error) {
	sub, err := p.subscriptions.Get(subscriptionID, &stripeapi.SubscriptionParams{
		Params: stripeapi.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get subscription %s: %w", subscriptionID, err)
	}
	if sub.Customer == nil || sub.Customer.ID != customerID {
		return nil, ErrCustomerMismatch
	}
	return sub, nil
}

func (*SubscriptionProvider) failure(action, subscriptionID string, err error) Result {
	res := failed(err)
	log.Warnw("stripe subscription change failed", "action", action, "subscription", subscriptionID,
		"outcome", res.Outcome.String(), "error", err)
	return res
}
