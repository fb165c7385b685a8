package stripe

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/vocdoni/saas-billing/notifications"
)

// fakeSubscriptions records the requests sent to the subscriptions API and
// answers them from a single stored subscription.
type fakeSubscriptions struct {
	mu        sync.Mutex
	current   *stripeapi.Subscription
	updated   *stripeapi.Subscription
	getErr    error
	newErr    error
	updateErr error
	cancelErr error

	created  []*stripeapi.SubscriptionParams
	updates  []*stripeapi.SubscriptionParams
	canceled []string
}

func (f *fakeSubscriptions) New(params *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.created = append(f.created, params)
	sub := &stripeapi.Subscription{
		ID:       fmt.Sprintf("sub_%d", len(f.created)),
		Customer: &stripeapi.Customer{ID: stripeapi.StringValue(params.Customer)},
		Status:   stripeapi.SubscriptionStatusActive,
		Metadata: params.Metadata,
	}
	if len(params.Items) > 0 {
		sub.Items = itemList("si_new", stripeapi.StringValue(params.Items[0].Price), 0)
	}
	return sub, nil
}

func (f *fakeSubscriptions) Get(id string, _ *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.current == nil || f.current.ID != id {
		return nil, &stripeapi.Error{HTTPStatusCode: 404, Type: stripeapi.ErrorTypeInvalidRequest, Msg: "No such subscription"}
	}
	return f.current, nil
}

func (f *fakeSubscriptions) Update(id string, params *stripeapi.SubscriptionParams) (*stripeapi.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updated != nil {
		return f.updated, nil
	}
	return f.current, nil
}

func (f *fakeSubscriptions) Cancel(id string, _ *stripeapi.SubscriptionCancelParams) (*stripeapi.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return f.current, nil
}

// fakeTaxRates resolves every percent to "txr_<percent>".
type fakeTaxRates struct {
	err error
}

func (f *fakeTaxRates) Resolve(_ context.Context, percent decimal.Decimal) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if !validTaxPercent(percent) {
		return "", ErrInvalidTaxPercent
	}
	if percent.IsZero() {
		return "", nil
	}
	return "txr_" + percent.String(), nil
}

func itemList(itemID, priceID string, periodEnd int64) *stripeapi.SubscriptionItemList {
	return &stripeapi.SubscriptionItemList{Data: []*stripeapi.SubscriptionItem{{
		ID:               itemID,
		Price:            &stripeapi.Price{ID: priceID},
		CurrentPeriodEnd: periodEnd,
	}}}
}

func testSubscription(id, customerID, priceID string) *stripeapi.Subscription {
	return &stripeapi.Subscription{
		ID:       id,
		Customer: &stripeapi.Customer{ID: customerID},
		Status:   stripeapi.SubscriptionStatusActive,
		Items:    itemList("si_1", priceID, 0),
	}
}

// fakeCustomers serves the customer, card and invoice calls of the service.
// Webhook signatures are checked by a real client.
type fakeCustomers struct {
	mu        sync.Mutex
	validator *Client
	invoices  []*stripeapi.Invoice
	createErr error
	cardErr   error

	customers []string
	cards     []*CardDetails
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{validator: NewClient(&Config{APIKey: "sk_test_billing", WebhookSecret: testWebhookSecret})}
}

func (f *fakeCustomers) ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error) {
	return f.validator.ValidateWebhookEvent(payload, signatureHeader)
}

func (f *fakeCustomers) CreateCustomer(_ context.Context, email, _, phone string, _ *Address) (*stripeapi.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.customers = append(f.customers, email+" "+phone)
	return &stripeapi.Customer{ID: fmt.Sprintf("cus_new%d", len(f.customers)), Email: email, Phone: phone}, nil
}

func (f *fakeCustomers) AddCard(_ context.Context, customerID string, card *CardDetails) (*stripeapi.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cardErr != nil {
		return nil, f.cardErr
	}
	f.cards = append(f.cards, card)
	return &stripeapi.PaymentMethod{
		ID:       fmt.Sprintf("pm_%d", len(f.cards)),
		Customer: &stripeapi.Customer{ID: customerID},
		Card: &stripeapi.PaymentMethodCard{
			Brand:       "visa",
			Last4:       card.Number[len(card.Number)-4:],
			Fingerprint: "fp_" + customerID,
		},
	}, nil
}

func (f *fakeCustomers) Invoices(_ context.Context, _ string) ([]*stripeapi.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoices, nil
}

// fakeNotifier hands the sent notifications over a channel.
type fakeNotifier struct {
	sent chan *notifications.Notification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan *notifications.Notification, 10)}
}

func (f *fakeNotifier) SendNotification(_ context.Context, n *notifications.Notification) error {
	f.sent <- n
	return nil
}
