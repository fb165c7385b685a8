package stripe

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/errors"
	"github.com/vocdoni/saas-billing/log"
	"github.com/vocdoni/saas-billing/notifications/mailtemplates"
)

// notificationTimeout bounds the delivery of a billing email.
const notificationTimeout = 30 * time.Second

// HandleWebhookEvent validates a webhook request and applies its event.
// Events already processed are skipped, so Stripe retries are harmless.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.client.ValidateWebhookEvent(payload, signatureHeader)
	if err != nil {
		return errors.ErrWebhookSignature.WithErr(err)
	}
	claimed, err := s.events.MarkProcessed(event.ID)
	if err != nil {
		return errors.ErrStripeWebhookError.WithErr(err)
	}
	if !claimed {
		log.Debugf("stripe webhook: event %s already processed, skipping", event.ID)
		return nil
	}
	if err := s.HandleEvent(ctx, event); err != nil {
		if ferr := s.events.Forget(event.ID); ferr != nil {
			log.Warnw("could not release webhook event", "event", event.ID, "error", ferr)
		}
		return errors.ErrStripeWebhookError.WithErr(err)
	}
	return nil
}

// HandleEvent applies a Stripe event to the local records.
func (s *Service) HandleEvent(ctx context.Context, event *stripeapi.Event) error {
	if event.Data == nil {
		return NewStripeError(ErrInvalidEvent.Code, fmt.Sprintf("event %s has no data", event.ID), nil)
	}
	switch event.Type {
	case stripeapi.EventTypeCustomerSubscriptionCreated,
		stripeapi.EventTypeCustomerSubscriptionUpdated,
		stripeapi.EventTypeCustomerSubscriptionDeleted:
		var sub stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return NewStripeError(ErrInvalidEvent.Code, "could not parse subscription", err)
		}
		return s.handleSubscription(ctx, event.Type, &sub)
	case stripeapi.EventTypeInvoicePaymentSucceeded,
		stripeapi.EventTypeInvoicePaymentFailed:
		var inv stripeapi.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return NewStripeError(ErrInvalidEvent.Code, "could not parse invoice", err)
		}
		return s.handleInvoice(ctx, event.Type, &inv)
	case stripeapi.EventTypePriceUpdated:
		var price stripeapi.Price
		if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
			return NewStripeError(ErrInvalidEvent.Code, "could not parse price", err)
		}
		return s.handlePriceUpdate(ctx, &price)
	default:
		log.Debugf("stripe webhook: received unhandled event type %s (id %s)", event.Type, event.ID)
		return nil
	}
}

// handleSubscription mirrors a Stripe subscription into the local record of
// its user, creating the record when it is not known yet.
func (s *Service) handleSubscription(ctx context.Context, eventType stripeapi.EventType,
	stripeSub *stripeapi.Subscription,
) error {
	info := newSubscriptionInfo(stripeSub)
	dc := s.db.NewContext()
	user, err := webhookUser(ctx, dc, info.Metadata[metadataUserID], info.CustomerID)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warnw("stripe webhook: subscription of unknown customer", "subscription", info.ID,
			"customer", info.CustomerID)
		return nil
	}
	// same lock as the account flows, a checkout in progress is saved first
	unlock := s.locks.Lock(user.ID)
	defer unlock()

	sub, err := dc.Subscriptions().First(ctx, "StripeSubscriptionID", info.ID)
	switch {
	case stderrors.Is(err, db.ErrNotFound):
		sub = &db.Subscription{
			UserID:               user.ID,
			StripeSubscriptionID: info.ID,
			CreatedAt:            s.now(),
		}
		dc.Subscriptions().Add(sub)
	case err != nil:
		return err
	default:
		dc.Subscriptions().Update(sub)
	}
	if sub.StripePlanID != info.PlanID || sub.PlanID == "" {
		sub.StripePlanID = info.PlanID
		plan, err := dc.SubscriptionPlans().First(ctx, "StripePlanID", info.PlanID)
		switch {
		case err == nil:
			sub.PlanID = plan.ID
		case !stderrors.Is(err, db.ErrNotFound):
			return err
		}
	}
	applySubscriptionInfo(sub, info)
	if eventType == stripeapi.EventTypeCustomerSubscriptionDeleted && sub.EndsAt == nil {
		now := s.now()
		sub.EndsAt = &now
	}
	if _, err := dc.SaveChanges(ctx); err != nil {
		return fmt.Errorf("could not save subscription %s: %w", info.ID, err)
	}
	log.Infow("stripe webhook: subscription saved", "subscription", info.ID, "user", user.ID,
		"status", sub.Status, "event", eventType)

	planName := sub.StripePlanID
	if plan, err := dc.SubscriptionPlans().Find(ctx, sub.PlanID); err == nil {
		planName = plan.Name
	}
	switch eventType {
	case stripeapi.EventTypeCustomerSubscriptionCreated:
		data := map[string]any{"UserName": user.Name, "PlanName": planName}
		if sub.TrialEnd != nil {
			data["TrialEnd"] = sub.TrialEnd.Format(time.DateOnly)
		}
		s.notify(user, mailtemplates.SubscriptionStartedNotification, data)
	case stripeapi.EventTypeCustomerSubscriptionDeleted:
		s.notify(user, mailtemplates.SubscriptionCanceledNotification, map[string]any{
			"UserName": user.Name,
			"PlanName": planName,
			"EndsAt":   sub.EndsAt.Format(time.DateOnly),
		})
	}
	return nil
}

// handleInvoice stores the invoice of a payment attempt and warns the user
// when it failed.
func (s *Service) handleInvoice(ctx context.Context, eventType stripeapi.EventType, inv *stripeapi.Invoice) error {
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	userID := ""
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		userID = inv.Parent.SubscriptionDetails.Metadata[metadataUserID]
	}
	dc := s.db.NewContext()
	user, err := webhookUser(ctx, dc, userID, customerID)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warnw("stripe webhook: invoice of unknown customer", "invoice", inv.ID, "customer", customerID)
		return nil
	}
	unlock := s.locks.Lock(user.ID)
	defer unlock()
	stored, err := upsertInvoice(ctx, dc, user, inv)
	if err != nil {
		return err
	}
	if _, err := dc.SaveChanges(ctx); err != nil {
		return fmt.Errorf("could not save invoice %s: %w", inv.ID, err)
	}
	log.Infow("stripe webhook: invoice saved", "invoice", inv.ID, "user", user.ID, "status", stored.Status)

	if eventType == stripeapi.EventTypeInvoicePaymentFailed {
		s.notify(user, mailtemplates.PaymentFailedNotification, map[string]any{
			"UserName":   user.Name,
			"Amount":     decimal.New(stored.AmountDue, -2).StringFixed(2),
			"Currency":   stored.Currency,
			"InvoiceURL": stored.HostedURL,
		})
	}
	return nil
}

// handlePriceUpdate refreshes the price of the plan billed with the updated
// Stripe price, and disables it when the price is archived. Plans are never
// re-enabled here.
func (s *Service) handlePriceUpdate(ctx context.Context, price *stripeapi.Price) error {
	dc := s.db.NewContext()
	plan, err := dc.SubscriptionPlans().First(ctx, "StripePlanID", price.ID)
	if stderrors.Is(err, db.ErrNotFound) {
		log.Debugf("stripe webhook: price %s not used by any plan, skipping update", price.ID)
		return nil
	}
	if err != nil {
		return err
	}
	plan.BasePrice = decimal.New(price.UnitAmount, -2)
	if !price.Active {
		plan.Disabled = true
	}
	dc.SubscriptionPlans().Update(plan)
	if _, err := dc.SaveChanges(ctx); err != nil {
		return fmt.Errorf("could not update plan %s: %w", plan.ID, err)
	}
	log.Infow("stripe webhook: plan price updated", "plan", plan.ID, "price", plan.BasePrice, "disabled", plan.Disabled)
	return nil
}

// webhookUser finds the user an event refers to, first by the user id kept in
// the Stripe metadata and then by customer. A nil user means it is unknown.
func webhookUser(ctx context.Context, dc db.DataContext, userID, customerID string) (*db.User, error) {
	if userID != "" {
		user, err := dc.Users().Find(ctx, userID)
		if err == nil {
			return user, nil
		}
		if !stderrors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	if customerID == "" {
		return nil, nil
	}
	user, err := dc.Users().First(ctx, "StripeCustomerID", customerID)
	if stderrors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// upsertInvoice queues the insertion or update of the local copy of inv.
func upsertInvoice(ctx context.Context, dc db.DataContext, user *db.User, inv *stripeapi.Invoice) (*db.Invoice, error) {
	stored, err := dc.Invoices().First(ctx, "StripeInvoiceID", inv.ID)
	switch {
	case stderrors.Is(err, db.ErrNotFound):
		stored = &db.Invoice{UserID: user.ID, StripeInvoiceID: inv.ID}
		dc.Invoices().Add(stored)
	case err != nil:
		return nil, err
	default:
		dc.Invoices().Update(stored)
	}
	if inv.Customer != nil {
		stored.StripeCustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		stored.StripeSubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	stored.Currency = string(inv.Currency)
	stored.AmountDue = inv.AmountDue
	stored.AmountPaid = inv.AmountPaid
	stored.Total = inv.Total
	stored.Status = string(inv.Status)
	stored.Paid = inv.Status == stripeapi.InvoiceStatusPaid
	stored.HostedURL = inv.HostedInvoiceURL
	stored.PeriodStart = time.Unix(inv.PeriodStart, 0).UTC()
	stored.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
	stored.CreatedAt = time.Unix(inv.Created, 0).UTC()
	return stored, nil
}

// notify renders and sends a billing email in the background. Delivery
// failures are only logged.
func (s *Service) notify(user *db.User, template mailtemplates.MailTemplate, data any) {
	if s.notifier == nil || user.Email == "" {
		return
	}
	n, err := template.ExecTemplate(data)
	if err != nil {
		log.Warnw("could not render notification", "template", template.File, "error", err)
		return
	}
	n.ToName = user.Name
	n.ToAddress = user.Email
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()
		if err := s.notifier.SendNotification(ctx, n); err != nil {
			log.Warnw("could not send notification", "template", template.File, "user", user.ID, "error", err)
		}
	}()
}
