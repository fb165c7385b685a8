package stripe

import (
	"context"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/vocdoni/saas-billing/log"
)

// Client wraps the Stripe API client with additional functionality. It
// holds a single configured API handle, safe for concurrent use.
type Client struct {
	config *Config
	api    *client.API
}

// Address is the billing address sent to Stripe.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

func (a *Address) params() *stripeapi.AddressParams {
	if a == nil {
		return nil
	}
	return &stripeapi.AddressParams{
		Line1:      optionalString(a.Line1),
		Line2:      optionalString(a.Line2),
		City:       optionalString(a.City),
		State:      optionalString(a.State),
		PostalCode: optionalString(a.PostalCode),
		Country:    optionalString(a.Country),
	}
}

// CardDetails holds the raw card data collected by the payment form. It is
// only forwarded to Stripe and never stored.
type CardDetails struct {
	Name     string
	Number   string
	CVC      string
	ExpMonth int64
	ExpYear  int64
	Address  *Address
}

// NewClient creates a new Stripe client with the given configuration
func NewClient(config *Config) *Client {
	backendConfig := &stripeapi.BackendConfig{
		LeveledLogger:     log.StripeLogger{},
		MaxNetworkRetries: stripeapi.Int64(config.MaxNetworkRetries),
	}
	if config.BackendURL != "" {
		backendConfig.URL = stripeapi.String(config.BackendURL)
	}
	api := &client.API{}
	api.Init(config.APIKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendConfig),
		Uploads: stripeapi.GetBackend(stripeapi.UploadsBackend),
	})
	return &Client{
		config: config,
		api:    api,
	}
}

// ValidateWebhookEvent validates and parses a webhook event
func (c *Client) ValidateWebhookEvent(payload []byte, signatureHeader string) (*stripeapi.Event, error) {
	event, err := stripewebhook.ConstructEventWithOptions(payload, signatureHeader, c.config.WebhookSecret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, NewStripeError(ErrWebhookValidation.Code, ErrWebhookValidation.Message, err)
	}
	return &event, nil
}

// CreateCustomer registers a new customer on Stripe.
func (c *Client) CreateCustomer(ctx context.Context, email, name, phone string, address *Address) (*stripeapi.Customer, error) {
	params := &stripeapi.CustomerParams{
		Params:  stripeapi.Params{Context: ctx},
		Email:   stripeapi.String(email),
		Name:    optionalString(name),
		Phone:   optionalString(phone),
		Address: address.params(),
	}
	customer, err := c.api.Customers.New(params)
	if err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, "failed to create customer", err)
	}
	log.Infow("stripe customer created", "customer", customer.ID)
	return customer, nil
}

// GetCustomer retrieves a customer by ID
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*stripeapi.Customer, error) {
	customer, err := c.api.Customers.Get(customerID, &stripeapi.CustomerParams{Params: stripeapi.Params{Context: ctx}})
	if err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, "failed to get customer", err)
	}
	return customer, nil
}

// AddCard creates a card payment method, attaches it to the customer and
// makes it the default one for the customer invoices.
func (c *Client) AddCard(ctx context.Context, customerID string, card *CardDetails) (*stripeapi.PaymentMethod, error) {
	if card == nil {
		return nil, NewStripeError("missing_card", "no card given", nil)
	}
	pm, err := c.api.PaymentMethods.New(&stripeapi.PaymentMethodParams{
		Params: stripeapi.Params{Context: ctx},
		Type:   stripeapi.String(string(stripeapi.PaymentMethodTypeCard)),
		Card: &stripeapi.PaymentMethodCardParams{
			Number:   stripeapi.String(card.Number),
			CVC:      stripeapi.String(card.CVC),
			ExpMonth: stripeapi.Int64(card.ExpMonth),
			ExpYear:  stripeapi.Int64(card.ExpYear),
		},
		BillingDetails: &stripeapi.PaymentMethodBillingDetailsParams{
			Name:    optionalString(card.Name),
			Address: card.Address.params(),
		},
	})
	if err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, "failed to create card", err)
	}
	if pm, err = c.api.PaymentMethods.Attach(pm.ID, &stripeapi.PaymentMethodAttachParams{
		Params:   stripeapi.Params{Context: ctx},
		Customer: stripeapi.String(customerID),
	}); err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, "failed to attach card", err)
	}
	if _, err := c.api.Customers.Update(customerID, &stripeapi.CustomerParams{
		Params: stripeapi.Params{Context: ctx},
		InvoiceSettings: &stripeapi.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripeapi.String(pm.ID),
		},
	}); err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, "failed to set default card", err)
	}
	log.Debugw("stripe card added", "customer", customerID, "paymentMethod", pm.ID)
	return pm, nil
}

// Invoices returns every invoice of the customer, newest first.
func (c *Client) Invoices(ctx context.Context, customerID string) ([]*stripeapi.Invoice, error) {
	params := &stripeapi.InvoiceListParams{
		ListParams: stripeapi.ListParams{Context: ctx},
		Customer:   stripeapi.String(customerID),
	}
	params.Filters.AddFilter("limit", "", "100")
	invoices := []*stripeapi.Invoice{}
	i := c.api.Invoices.List(params)
	for i.Next() {
		invoices = append(invoices, i.Invoice())
	}
	if err := i.Err(); err != nil {
		return nil, NewStripeError(ErrAPICallFailed.Code, fmt.Sprintf("failed to list invoices of %s", customerID), err)
	}
	return invoices, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return stripeapi.String(s)
}
