// Package stripe provides integration with the Stripe payment service,
// handling customers, subscriptions, invoices, and webhook events.
package stripe

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/vocdoni/saas-billing/api/apicommon"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/errors"
	"github.com/vocdoni/saas-billing/internal"
	"github.com/vocdoni/saas-billing/log"
	"github.com/vocdoni/saas-billing/notifications"
)

// statusPending marks a local subscription created at checkout until Stripe
// reports its real status through the webhooks.
const statusPending = "pending"

// customerAPI is the part of *Client used by the service.
type customerAPI interface {
	ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error)
	CreateCustomer(ctx context.Context, email, name, phone string, address *Address) (*stripeapi.Customer, error)
	AddCard(ctx context.Context, customerID string, card *CardDetails) (*stripeapi.PaymentMethod, error)
	Invoices(ctx context.Context, customerID string) ([]*stripeapi.Invoice, error)
}

// CheckoutResult is what a processed payment form produced.
type CheckoutResult struct {
	CustomerID    string
	Card          *db.CreditCard
	Subscriptions []*db.Subscription
}

// Service provides the billing business logic on top of Stripe and the data
// context.
type Service struct {
	client   customerAPI
	provider *SubscriptionProvider
	db       db.Database
	locks    *LockManager
	events   EventStore
	notifier notifications.NotificationService
	config   *Config
	now      func() time.Time
}

// NewService creates a new billing service. The notifier is optional, when
// nil no emails are sent.
func NewService(config *Config, database db.Database, events EventStore,
	notifier notifications.NotificationService,
) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	client := NewClient(config)
	return &Service{
		client:   client,
		provider: NewSubscriptionProvider(client),
		db:       database,
		locks:    NewLockManager(),
		events:   events,
		notifier: notifier,
		config:   config,
		now:      time.Now,
	}, nil
}

// Checkout processes the payment form of a user: it registers the user as a
// Stripe customer if needed, stores the card as the default payment method
// and subscribes the user to every requested plan.
func (s *Service) Checkout(ctx context.Context, userID string,
	vm *apicommon.CustomerPaymentViewModel,
) (*CheckoutResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, err := s.user(ctx, dc, userID)
	if err != nil {
		return nil, err
	}
	plans := make([]*db.SubscriptionPlan, 0, len(vm.Subscriptions))
	for _, requested := range vm.Subscriptions {
		plan, err := s.plan(ctx, dc, requested.PlanID)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	if user.StripeCustomerID == "" {
		if err := s.createCustomer(ctx, dc, user, vm); err != nil {
			return nil, err
		}
	}
	result := &CheckoutResult{CustomerID: user.StripeCustomerID}

	card, err := s.addCard(ctx, dc, user, &vm.CardViewModel)
	if err != nil {
		return nil, err
	}
	result.Card = card

	for _, plan := range plans {
		sub, err := s.subscribe(ctx, user, plan)
		if err != nil {
			// keep what Stripe already accepted
			if _, serr := dc.SaveChanges(ctx); serr != nil {
				log.Errorw(serr, "could not save partial checkout", "user", userID)
			}
			return nil, err
		}
		dc.Subscriptions().Add(sub)
		result.Subscriptions = append(result.Subscriptions, sub)
	}
	if _, err := dc.SaveChanges(ctx); err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	log.Infow("checkout completed", "user", userID, "customer", user.StripeCustomerID,
		"subscriptions", len(result.Subscriptions))
	return result, nil
}

// AddCard replaces the default card of a user that already is a customer.
func (s *Service) AddCard(ctx context.Context, userID string, card *apicommon.CardViewModel) (*db.CreditCard, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, err := s.user(ctx, dc, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeCustomerID == "" {
		return nil, errors.ErrMissingCustomer
	}
	stored, err := s.addCard(ctx, dc, user, card)
	if err != nil {
		return nil, err
	}
	if _, err := dc.SaveChanges(ctx); err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return stored, nil
}

// ChangePlan moves a subscription of the user to another plan.
func (s *Service) ChangePlan(ctx context.Context, userID, subscriptionID string,
	req *apicommon.ChangePlanRequest,
) (*db.Subscription, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, sub, err := s.userSubscription(ctx, dc, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plan(ctx, dc, req.PlanID)
	if err != nil {
		return nil, err
	}
	res := s.provider.UpdateSubscription(ctx, user.StripeCustomerID, sub.StripeSubscriptionID,
		plan.StripePlanID, req.Prorate)
	if !res.OK() {
		return nil, providerError(res.Err)
	}
	sub.PlanID = plan.ID
	sub.StripePlanID = plan.StripePlanID
	applySubscriptionInfo(sub, res.Subscription)
	return s.saveSubscription(ctx, dc, sub)
}

// ChangeTax sets the tax percent applied to a subscription of the user.
func (s *Service) ChangeTax(ctx context.Context, userID, subscriptionID string,
	taxPercent decimal.Decimal,
) (*db.Subscription, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, sub, err := s.userSubscription(ctx, dc, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	res := s.provider.UpdateSubscriptionTax(ctx, user.StripeCustomerID, sub.StripeSubscriptionID, taxPercent)
	if !res.OK() {
		return nil, providerError(res.Err)
	}
	sub.TaxPercent = taxPercent
	applySubscriptionInfo(sub, res.Subscription)
	return s.saveSubscription(ctx, dc, sub)
}

// Cancel ends a subscription of the user, right away or at the end of the
// current period, and returns when it stops.
func (s *Service) Cancel(ctx context.Context, userID, subscriptionID string, atPeriodEnd bool) (time.Time, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, sub, err := s.userSubscription(ctx, dc, userID, subscriptionID)
	if err != nil {
		return time.Time{}, err
	}
	if !sub.Active(s.now()) {
		return time.Time{}, errors.ErrSubscriptionEnded
	}
	endsAt, err := s.provider.EndSubscription(ctx, user.StripeCustomerID, sub.StripeSubscriptionID, atPeriodEnd)
	if err != nil {
		return time.Time{}, providerError(err)
	}
	sub.EndsAt = &endsAt
	sub.CancelAtPeriodEnd = atPeriodEnd
	if !atPeriodEnd {
		sub.Status = string(stripeapi.SubscriptionStatusCanceled)
	}
	if _, err := s.saveSubscription(ctx, dc, sub); err != nil {
		return time.Time{}, err
	}
	log.Infow("subscription canceled", "user", userID, "subscription", sub.StripeSubscriptionID,
		"atPeriodEnd", atPeriodEnd, "endsAt", endsAt)
	return endsAt, nil
}

// Plans returns the plans customers can subscribe to.
func (s *Service) Plans(ctx context.Context) ([]*db.SubscriptionPlan, error) {
	plans, err := s.db.NewContext().SubscriptionPlans().All(ctx)
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	enabled := plans[:0]
	for _, p := range plans {
		if !p.Disabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// UserSubscriptions returns the local subscriptions of the user.
func (s *Service) UserSubscriptions(ctx context.Context, userID string) ([]*db.Subscription, error) {
	subs, err := s.db.NewContext().Subscriptions().Where(ctx, "UserID", userID)
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return subs, nil
}

// UserInvoices returns the local invoices of the user.
func (s *Service) UserInvoices(ctx context.Context, userID string) ([]*db.Invoice, error) {
	invoices, err := s.db.NewContext().Invoices().Where(ctx, "UserID", userID)
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return invoices, nil
}

// SyncInvoices pulls the invoices of the user from Stripe, stores them and
// returns the resulting local invoices.
func (s *Service) SyncInvoices(ctx context.Context, userID string) ([]*db.Invoice, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	dc := s.db.NewContext()
	user, err := s.user(ctx, dc, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeCustomerID != "" {
		invoices, err := s.client.Invoices(ctx, user.StripeCustomerID)
		if err != nil {
			return nil, providerError(err)
		}
		for _, inv := range invoices {
			if _, err := upsertInvoice(ctx, dc, user, inv); err != nil {
				return nil, errors.ErrInternalStorageError.WithErr(err)
			}
		}
		n, err := dc.SaveChanges(ctx)
		if err != nil {
			return nil, errors.ErrInternalStorageError.WithErr(err)
		}
		log.Debugw("invoices synced", "user", userID, "fetched", len(invoices), "stored", n)
	}
	invoices, err := dc.Invoices().Where(ctx, "UserID", userID)
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return invoices, nil
}

func (s *Service) createCustomer(ctx context.Context, dc db.DataContext, user *db.User,
	vm *apicommon.CustomerPaymentViewModel,
) error {
	if !internal.ValidEmail(user.Email) {
		return errors.ErrInvalidData.Withf("user %s has an invalid email", user.ID)
	}
	phone := ""
	if vm.Phone != "" {
		var err error
		if phone, err = internal.SanitizeAndVerifyPhoneNumber(vm.Phone, vm.Country); err != nil {
			return errors.ErrInvalidData.WithErr(err)
		}
	}
	name := vm.UserName
	if name == "" {
		name = user.Name
	}
	customer, err := s.client.CreateCustomer(ctx, user.Email, name, phone, addressOf(&vm.AddressViewModel))
	if err != nil {
		return providerError(err)
	}
	user.StripeCustomerID = customer.ID
	dc.Users().Update(user)
	// the customer reference is kept even if the rest of the checkout fails
	if _, err := dc.SaveChanges(ctx); err != nil {
		return errors.ErrInternalStorageError.WithErr(err)
	}
	return nil
}

func (s *Service) addCard(ctx context.Context, dc db.DataContext, user *db.User,
	card *apicommon.CardViewModel,
) (*db.CreditCard, error) {
	pm, err := s.client.AddCard(ctx, user.StripeCustomerID, &CardDetails{
		Name:     card.Name,
		Number:   internal.CardDigits(card.CardNumber),
		CVC:      card.Cvc,
		ExpMonth: int64(card.ExpiryMonth),
		ExpYear:  int64(card.ExpiryFullYear()),
		Address:  addressOf(&card.AddressViewModel),
	})
	if err != nil {
		return nil, providerError(err)
	}
	stored := &db.CreditCard{
		UserID:                user.ID,
		StripePaymentMethodID: pm.ID,
		Name:                  card.Name,
		Last4:                 internal.CardLast4(card.CardNumber),
		ExpMonth:              card.ExpiryMonth,
		ExpYear:               card.ExpiryFullYear(),
		AddressLine1:          card.AddressLine1,
		AddressLine2:          card.AddressLine2,
		City:                  card.City,
		State:                 card.State,
		Zip:                   card.Zip,
		Country:               card.Country,
		CreatedAt:             s.now(),
	}
	if pm.Card != nil {
		stored.Brand = string(pm.Card.Brand)
		stored.Fingerprint = pm.Card.Fingerprint
		if pm.Card.Last4 != "" {
			stored.Last4 = pm.Card.Last4
		}
	}
	dc.CreditCards().Add(stored)
	return stored, nil
}

func (s *Service) subscribe(ctx context.Context, user *db.User, plan *db.SubscriptionPlan) (*db.Subscription, error) {
	stripeID, err := s.provider.SubscribeUser(ctx, user, plan.StripePlanID, plan.TrialDays(), s.config.TaxPercent)
	if err != nil {
		return nil, providerError(err)
	}
	now := s.now()
	sub := &db.Subscription{
		UserID:               user.ID,
		PlanID:               plan.ID,
		StripeSubscriptionID: stripeID,
		StripePlanID:         plan.StripePlanID,
		Status:               statusPending,
		TaxPercent:           s.config.TaxPercent,
		CreatedAt:            now,
	}
	if days := plan.TrialDays(); days > 0 {
		trialEnd := now.AddDate(0, 0, days)
		sub.TrialEnd = &trialEnd
	}
	return sub, nil
}

func (*Service) user(ctx context.Context, dc db.DataContext, userID string) (*db.User, error) {
	user, err := dc.Users().Find(ctx, userID)
	if stderrors.Is(err, db.ErrNotFound) {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return user, nil
}

func (*Service) plan(ctx context.Context, dc db.DataContext, planID string) (*db.SubscriptionPlan, error) {
	plan, err := dc.SubscriptionPlans().Find(ctx, planID)
	if stderrors.Is(err, db.ErrNotFound) {
		return nil, errors.ErrPlanNotFound.With(planID)
	}
	if err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	if plan.Disabled {
		return nil, errors.ErrPlanDisabled.With(planID)
	}
	return plan, nil
}

// userSubscription loads the user and one of its subscriptions. Another
// user's subscription is reported as not found.
func (s *Service) userSubscription(ctx context.Context, dc db.DataContext,
	userID, subscriptionID string,
) (*db.User, *db.Subscription, error) {
	user, err := s.user(ctx, dc, userID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := dc.Subscriptions().Find(ctx, subscriptionID)
	if stderrors.Is(err, db.ErrNotFound) || (err == nil && sub.UserID != userID) {
		return nil, nil, errors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, nil, errors.ErrInternalStorageError.WithErr(err)
	}
	if user.StripeCustomerID == "" {
		return nil, nil, errors.ErrMissingCustomer
	}
	return user, sub, nil
}

// RunMaintenance drops the idle customer locks every interval until ctx is
// done.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.locks.CleanupLocks()
		}
	}
}

func (*Service) saveSubscription(ctx context.Context, dc db.DataContext, sub *db.Subscription) (*db.Subscription, error) {
	dc.Subscriptions().Update(sub)
	if _, err := dc.SaveChanges(ctx); err != nil {
		return nil, errors.ErrInternalStorageError.WithErr(err)
	}
	return sub, nil
}

// applySubscriptionInfo copies the state reported by Stripe into the local
// subscription.
func applySubscriptionInfo(sub *db.Subscription, info *SubscriptionInfo) {
	if info == nil {
		return
	}
	if info.Status != "" {
		sub.Status = string(info.Status)
	}
	sub.TrialEnd = info.TrialEnd
	sub.CurrentPeriodEnd = info.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = info.CancelAtPeriodEnd
	switch {
	case info.EndedAt != nil:
		sub.EndsAt = info.EndedAt
	case info.CancelAt != nil:
		sub.EndsAt = info.CancelAt
	case info.CancelAtPeriodEnd && !info.CurrentPeriodEnd.IsZero():
		end := info.CurrentPeriodEnd
		sub.EndsAt = &end
	default:
		sub.EndsAt = nil
	}
}

// providerError converts the errors of the Stripe calls into API errors.
func providerError(err error) error {
	var apiErr errors.Error
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &apiErr):
		return err
	case stderrors.Is(err, ErrMissingCustomer):
		return errors.ErrMissingCustomer.WithErr(err)
	case stderrors.Is(err, ErrCustomerMismatch):
		return errors.ErrSubscriptionForbidden.WithErr(err)
	case stderrors.Is(err, ErrInvalidTaxPercent):
		return errors.ErrInvalidTaxPercent.WithErr(err)
	case stderrors.Is(err, ErrInvalidTrial):
		return errors.ErrInvalidData.WithErr(err)
	case stderrors.Is(err, ErrListNotSupported):
		return errors.ErrNotSupported.WithErr(err)
	}
	if IsRetryableError(err) {
		return errors.ErrStripeUnavailable.WithErr(err)
	}
	return errors.ErrStripeRejected.WithErr(err)
}

func addressOf(a *apicommon.AddressViewModel) *Address {
	if a == nil || *a == (apicommon.AddressViewModel{}) {
		return nil
	}
	return &Address{
		Line1:      a.AddressLine1,
		Line2:      a.AddressLine2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.Zip,
		Country:    a.Country,
	}
}
