package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/vocdoni/saas-billing/db"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestProvider(backend *fakeSubscriptions) *SubscriptionProvider {
	p := newSubscriptionProvider(backend, &fakeTaxRates{})
	p.now = func() time.Time { return testNow }
	return p
}

func testUser() *db.User {
	return &db.User{ID: "user-1", Email: "jane@example.com", StripeCustomerID: "cus_1"}
}

func TestSubscribeUser(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("trial days and tax", func(c *qt.C) {
		backend := &fakeSubscriptions{}
		p := newTestProvider(backend)

		id, err := p.SubscribeUser(ctx, testUser(), "price_pro", 14, decimal.NewFromInt(21))
		c.Assert(err, qt.IsNil)
		c.Assert(id, qt.Equals, "sub_1")
		c.Assert(backend.created, qt.HasLen, 1)
		params := backend.created[0]
		c.Assert(*params.Customer, qt.Equals, "cus_1")
		c.Assert(*params.Items[0].Price, qt.Equals, "price_pro")
		c.Assert(*params.TrialEnd, qt.Equals, testNow.AddDate(0, 0, 14).Unix())
		c.Assert(params.TrialEndNow, qt.IsNil)
		c.Assert(params.DefaultTaxRates, qt.HasLen, 1)
		c.Assert(*params.DefaultTaxRates[0], qt.Equals, "txr_21")
		c.Assert(params.Metadata[metadataUserID], qt.Equals, "user-1")
		c.Assert(params.Context, qt.Equals, ctx)
	})

	c.Run("no trial and no tax", func(c *qt.C) {
		backend := &fakeSubscriptions{}
		p := newTestProvider(backend)

		_, err := p.SubscribeUser(ctx, testUser(), "price_pro", 0, decimal.Zero)
		c.Assert(err, qt.IsNil)
		params := backend.created[0]
		c.Assert(params.TrialEnd, qt.IsNil)
		c.Assert(*params.TrialEndNow, qt.IsTrue)
		c.Assert(params.DefaultTaxRates, qt.IsNil)
	})

	c.Run("provider errors propagate", func(c *qt.C) {
		stripeErr := &stripeapi.Error{HTTPStatusCode: 402, Type: stripeapi.ErrorTypeCard, Msg: "card declined"}
		p := newTestProvider(&fakeSubscriptions{newErr: stripeErr})

		_, err := p.SubscribeUser(ctx, testUser(), "price_pro", 0, decimal.Zero)
		var got *stripeapi.Error
		c.Assert(errors.As(err, &got), qt.IsTrue)
		c.Assert(got, qt.Equals, stripeErr)
	})

	c.Run("requires a customer", func(c *qt.C) {
		backend := &fakeSubscriptions{}
		p := newTestProvider(backend)

		_, err := p.SubscribeUser(ctx, &db.User{ID: "user-2"}, "price_pro", 0, decimal.Zero)
		c.Assert(errors.Is(err, ErrMissingCustomer), qt.IsTrue)
		_, err = p.SubscribeUser(ctx, testUser(), "", 0, decimal.Zero)
		c.Assert(errors.Is(err, ErrMissingPlan), qt.IsTrue)
		_, err = p.SubscribeUser(ctx, testUser(), "price_pro", 0, decimal.NewFromInt(101))
		c.Assert(errors.Is(err, ErrInvalidTaxPercent), qt.IsTrue)
		c.Assert(backend.created, qt.HasLen, 0)
	})

	c.Run("negative trial days", func(c *qt.C) {
		backend := &fakeSubscriptions{}
		p := newTestProvider(backend)

		_, err := p.SubscribeUser(ctx, testUser(), "price_pro", -1, decimal.Zero)
		c.Assert(errors.Is(err, ErrInvalidTrial), qt.IsTrue)
		c.Assert(Classify(err), qt.Equals, OutcomeRejected)
		c.Assert(backend.created, qt.HasLen, 0)
	})
}

func TestSubscribeUserUntil(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	backend := &fakeSubscriptions{}
	p := newTestProvider(backend)

	trialEnds := time.Date(2024, time.April, 1, 8, 30, 0, 0, time.UTC)
	_, err := p.SubscribeUserUntil(ctx, testUser(), "price_pro", &trialEnds, decimal.RequireFromString("7.5"))
	c.Assert(err, qt.IsNil)
	c.Assert(*backend.created[0].TrialEnd, qt.Equals, trialEnds.Unix())
	c.Assert(*backend.created[0].DefaultTaxRates[0], qt.Equals, "txr_7.5")

	_, err = p.SubscribeUserUntil(ctx, testUser(), "price_pro", nil, decimal.Zero)
	c.Assert(err, qt.IsNil)
	c.Assert(backend.created[1].TrialEnd, qt.IsNil)
	c.Assert(backend.created[1].TrialEndNow, qt.IsNil)
}

func TestSubscribeUserNaturalMonth(t *testing.T) {
	c := qt.New(t)
	backend := &fakeSubscriptions{}
	p := newTestProvider(backend)

	anchor := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	info, err := p.SubscribeUserNaturalMonth(context.Background(), testUser(), "price_pro", &anchor, decimal.Zero)
	c.Assert(err, qt.IsNil)
	c.Assert(*backend.created[0].BillingCycleAnchor, qt.Equals, anchor.Unix())
	c.Assert(info.ID, qt.Equals, "sub_1")
	c.Assert(info.CustomerID, qt.Equals, "cus_1")
	c.Assert(info.PlanID, qt.Equals, "price_pro")

	_, err = p.SubscribeUserNaturalMonth(context.Background(), testUser(), "price_pro", nil, decimal.Zero)
	c.Assert(err, qt.IsNil)
	c.Assert(backend.created[1].BillingCycleAnchor, qt.IsNil)
}

func TestUserSubscriptionsIsNotSupported(t *testing.T) {
	c := qt.New(t)
	p := newTestProvider(&fakeSubscriptions{})
	for _, id := range []string{"", "user-1", "anything"} {
		subs, err := p.UserSubscriptions(context.Background(), id)
		c.Assert(subs, qt.IsNil)
		c.Assert(errors.Is(err, errors.ErrUnsupported), qt.IsTrue)
		c.Assert(errors.Is(err, ErrListNotSupported), qt.IsTrue)
	}
}

func TestEndSubscription(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("at period end returns the provider end", func(c *qt.C) {
		periodEnd := testNow.AddDate(0, 1, 0).Truncate(time.Second)
		updated := testSubscription("sub_1", "cus_1", "price_pro")
		updated.Items = itemList("si_1", "price_pro", periodEnd.Unix())
		updated.CancelAtPeriodEnd = true
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro"), updated: updated}
		p := newTestProvider(backend)

		end, err := p.EndSubscription(ctx, "cus_1", "sub_1", true)
		c.Assert(err, qt.IsNil)
		c.Assert(end.Equal(periodEnd), qt.IsTrue)
		c.Assert(*backend.updates[0].CancelAtPeriodEnd, qt.IsTrue)
		c.Assert(backend.canceled, qt.HasLen, 0)

		cancelAt := testNow.AddDate(0, 0, 3).Truncate(time.Second)
		updated.CancelAt = cancelAt.Unix()
		end, err = p.EndSubscription(ctx, "cus_1", "sub_1", true)
		c.Assert(err, qt.IsNil)
		c.Assert(end.Equal(cancelAt), qt.IsTrue)
	})

	c.Run("at period end without an end date", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newTestProvider(backend)
		_, err := p.EndSubscription(ctx, "cus_1", "sub_1", true)
		c.Assert(errors.Is(err, ErrNoEndDate), qt.IsTrue)
	})

	c.Run("immediately returns now", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newTestProvider(backend)

		end, err := p.EndSubscription(ctx, "cus_1", "sub_1", false)
		c.Assert(err, qt.IsNil)
		c.Assert(end, qt.Equals, testNow)
		c.Assert(backend.canceled, qt.DeepEquals, []string{"sub_1"})
		c.Assert(backend.updates, qt.HasLen, 0)
	})

	c.Run("immediately uses the real clock", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newSubscriptionProvider(backend, &fakeTaxRates{})
		before := time.Now()
		end, err := p.EndSubscription(ctx, "cus_1", "sub_1", false)
		c.Assert(err, qt.IsNil)
		c.Assert(end.Before(before), qt.IsFalse)
		c.Assert(time.Since(end) < time.Minute, qt.IsTrue)
	})

	c.Run("another customer", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newTestProvider(backend)
		_, err := p.EndSubscription(ctx, "cus_2", "sub_1", false)
		c.Assert(errors.Is(err, ErrCustomerMismatch), qt.IsTrue)
		c.Assert(backend.canceled, qt.HasLen, 0)
	})
}

func TestUpdateSubscription(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("keeps a future trial end", func(c *qt.C) {
		current := testSubscription("sub_1", "cus_1", "price_basic")
		current.TrialEnd = testNow.Add(48 * time.Hour).Unix()
		backend := &fakeSubscriptions{current: current}
		p := newTestProvider(backend)

		res := p.UpdateSubscription(ctx, "cus_1", "sub_1", "price_pro", true)
		c.Assert(res.OK(), qt.IsTrue)
		c.Assert(res.Outcome, qt.Equals, OutcomeApplied)
		c.Assert(backend.updates, qt.HasLen, 1)
		params := backend.updates[0]
		c.Assert(*params.TrialEnd, qt.Equals, current.TrialEnd)
		c.Assert(*params.Items[0].ID, qt.Equals, "si_1")
		c.Assert(*params.Items[0].Price, qt.Equals, "price_pro")
		c.Assert(*params.ProrationBehavior, qt.Equals, "create_prorations")
	})

	c.Run("elapsed or missing trial sends no trial end", func(c *qt.C) {
		for _, trialEnd := range []int64{0, testNow.Add(-time.Hour).Unix()} {
			current := testSubscription("sub_1", "cus_1", "price_basic")
			current.TrialEnd = trialEnd
			backend := &fakeSubscriptions{current: current}
			p := newTestProvider(backend)

			res := p.UpdateSubscription(ctx, "cus_1", "sub_1", "price_pro", false)
			c.Assert(res.OK(), qt.IsTrue)
			c.Assert(backend.updates[0].TrialEnd, qt.IsNil)
			c.Assert(*backend.updates[0].ProrationBehavior, qt.Equals, "none")
		}
	})

	c.Run("same plan is a noop", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newTestProvider(backend)

		res := p.UpdateSubscription(ctx, "cus_1", "sub_1", "price_pro", false)
		c.Assert(res.OK(), qt.IsTrue)
		c.Assert(res.Outcome, qt.Equals, OutcomeNoop)
		c.Assert(backend.updates, qt.HasLen, 0)
	})

	c.Run("failures are captured", func(c *qt.C) {
		for _, tc := range []struct {
			name    string
			backend *fakeSubscriptions
			outcome Outcome
		}{
			{"get fails", &fakeSubscriptions{getErr: &stripeapi.Error{HTTPStatusCode: 500, Type: stripeapi.ErrorTypeAPI}}, OutcomeUnavailable},
			{"update rejected", &fakeSubscriptions{
				current:   testSubscription("sub_1", "cus_1", "price_basic"),
				updateErr: &stripeapi.Error{HTTPStatusCode: 400, Type: stripeapi.ErrorTypeInvalidRequest},
			}, OutcomeRejected},
			{"rate limited", &fakeSubscriptions{
				current:   testSubscription("sub_1", "cus_1", "price_basic"),
				updateErr: &stripeapi.Error{HTTPStatusCode: 429, Type: stripeapi.ErrorTypeInvalidRequest},
			}, OutcomeUnavailable},
			{"network", &fakeSubscriptions{
				current:   testSubscription("sub_1", "cus_1", "price_basic"),
				updateErr: errors.New("connection reset"),
			}, OutcomeUnavailable},
			{"unknown subscription", &fakeSubscriptions{}, OutcomeRejected},
			{"another customer", &fakeSubscriptions{current: testSubscription("sub_1", "cus_2", "price_basic")}, OutcomeRejected},
		} {
			c.Run(tc.name, func(c *qt.C) {
				p := newTestProvider(tc.backend)
				res := p.UpdateSubscription(ctx, "cus_1", "sub_1", "price_pro", false)
				c.Assert(res.OK(), qt.IsFalse)
				c.Assert(res.Outcome, qt.Equals, tc.outcome)
				c.Assert(res.Err, qt.IsNotNil)
				c.Assert(res.Subscription, qt.IsNil)
			})
		}
	})

	c.Run("no items", func(c *qt.C) {
		current := testSubscription("sub_1", "cus_1", "")
		current.Items = nil
		p := newTestProvider(&fakeSubscriptions{current: current})
		res := p.UpdateSubscription(ctx, "cus_1", "sub_1", "price_pro", false)
		c.Assert(errors.Is(res.Err, ErrNoSubscriptionItems), qt.IsTrue)
		c.Assert(res.Outcome, qt.Equals, OutcomeRejected)
	})
}

func TestUpdateSubscriptionTax(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("sets the tax rate", func(c *qt.C) {
		backend := &fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}
		p := newTestProvider(backend)

		res := p.UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.NewFromInt(21))
		c.Assert(res.Outcome, qt.Equals, OutcomeApplied)
		c.Assert(backend.updates, qt.HasLen, 1)
		c.Assert(*backend.updates[0].DefaultTaxRates[0], qt.Equals, "txr_21")
	})

	c.Run("zero clears the tax rates", func(c *qt.C) {
		current := testSubscription("sub_1", "cus_1", "price_pro")
		current.DefaultTaxRates = []*stripeapi.TaxRate{{ID: "txr_21"}}
		backend := &fakeSubscriptions{current: current}
		p := newTestProvider(backend)

		res := p.UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.Zero)
		c.Assert(res.Outcome, qt.Equals, OutcomeApplied)
		params := backend.updates[0]
		c.Assert(params.DefaultTaxRates, qt.IsNil)
		c.Assert(params.Extra, qt.IsNotNil)
		c.Assert(params.Extra.Values["default_tax_rates"], qt.DeepEquals, []string{""})
	})

	c.Run("unchanged tax is a noop", func(c *qt.C) {
		current := testSubscription("sub_1", "cus_1", "price_pro")
		current.DefaultTaxRates = []*stripeapi.TaxRate{{ID: "txr_21"}}
		backend := &fakeSubscriptions{current: current}
		p := newTestProvider(backend)

		res := p.UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.NewFromInt(21))
		c.Assert(res.Outcome, qt.Equals, OutcomeNoop)
		res = newTestProvider(&fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}).
			UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.Zero)
		c.Assert(res.Outcome, qt.Equals, OutcomeNoop)
		c.Assert(backend.updates, qt.HasLen, 0)
	})

	c.Run("failures are captured", func(c *qt.C) {
		backend := &fakeSubscriptions{
			current:   testSubscription("sub_1", "cus_1", "price_pro"),
			updateErr: &stripeapi.Error{HTTPStatusCode: 503, Type: stripeapi.ErrorTypeAPI},
		}
		p := newTestProvider(backend)
		res := p.UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.NewFromInt(10))
		c.Assert(res.OK(), qt.IsFalse)
		c.Assert(res.Outcome, qt.Equals, OutcomeUnavailable)

		p = newSubscriptionProvider(&fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")},
			&fakeTaxRates{err: NewStripeError(ErrAPICallFailed.Code, "failed to list tax rates", errors.New("timeout"))})
		res = p.UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.NewFromInt(10))
		c.Assert(res.OK(), qt.IsFalse)
		c.Assert(res.Outcome, qt.Equals, OutcomeUnavailable)

		res = newTestProvider(&fakeSubscriptions{current: testSubscription("sub_1", "cus_1", "price_pro")}).
			UpdateSubscriptionTax(ctx, "cus_1", "sub_1", decimal.NewFromInt(-5))
		c.Assert(res.OK(), qt.IsFalse)
		c.Assert(res.Outcome, qt.Equals, OutcomeRejected)
	})
}
