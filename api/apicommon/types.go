package apicommon

//revive:disable:max-public-structs

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vocdoni/saas-billing/db"
)

// AddressViewModel is the billing address of the payment form.
// swagger:model AddressViewModel
type AddressViewModel struct {
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
	City         string `json:"city,omitempty"`
	// ISO 3166-1 alpha-2 country code
	Country string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
}

// CardViewModel holds the card data typed by the customer. It is forwarded
// to the payment provider and never stored.
// swagger:model CardViewModel
type CardViewModel struct {
	// Cardholder name
	Name       string `json:"name" validate:"required"`
	CardNumber string `json:"cardNumber" validate:"required,credit_card"`
	Cvc        string `json:"cvc" validate:"required,cvc"`
	// Expiry month, 1 to 12
	ExpiryMonth int `json:"expiryMonth" validate:"month"`
	// Two-digit expiry year, 17 to 30
	ExpiryYear int `json:"expiryYear" validate:"expyear"`

	AddressViewModel
}

// ExpiryFullYear returns the expiry year with the century added.
func (c *CardViewModel) ExpiryFullYear() int {
	return TwoDigitYearBase + c.ExpiryYear
}

// CustomerSubscriptionViewModel is a plan requested in the payment form.
// swagger:model CustomerSubscriptionViewModel
type CustomerSubscriptionViewModel struct {
	// Local subscription plan id
	PlanID string `json:"planID" validate:"required"`
}

// CustomerPaymentViewModel is the payment form submitted at checkout. It is
// converted into a provider customer, a card, and one subscription per
// requested plan.
// swagger:model CustomerPaymentViewModel
type CustomerPaymentViewModel struct {
	UserName string `json:"userName,omitempty"`

	CardViewModel

	// Optional contact phone, checked against the numbering plan of Country
	Phone string `json:"phone,omitempty" validate:"omitempty,phone"`

	// Donation attributes
	DonationID int    `json:"donationID,omitempty"`
	CycleID    string `json:"cycleID,omitempty"`

	Subscriptions []CustomerSubscriptionViewModel `json:"subscriptions" validate:"dive"`

	Frequency   string `json:"frequency,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      int    `json:"amount,omitempty"`
}

// ChangePlanRequest moves a subscription to another plan.
// swagger:model ChangePlanRequest
type ChangePlanRequest struct {
	PlanID string `json:"planID" validate:"required"`
	// Whether the provider should prorate the current period
	Prorate bool `json:"prorate"`
}

// ChangeTaxRequest sets the tax applied to a subscription.
// swagger:model ChangeTaxRequest
type ChangeTaxRequest struct {
	TaxPercent decimal.Decimal `json:"taxPercent" validate:"gte=0,lte=100"`
}

// PlanResponse is a subscription plan offered to customers.
// swagger:model PlanResponse
type PlanResponse struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Type                  string          `json:"type"`
	BaseSeats             int16           `json:"baseSeats"`
	CanBuyAdditionalSeats bool            `json:"canBuyAdditionalSeats"`
	BasePrice             decimal.Decimal `json:"basePrice"`
	SeatPrice             decimal.Decimal `json:"seatPrice"`
	TrialPeriodDays       int             `json:"trialPeriodDays"`
}

// PlanFromDB converts a db.SubscriptionPlan to a PlanResponse.
func PlanFromDB(p *db.SubscriptionPlan) PlanResponse {
	return PlanResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Type:                  p.Type.String(),
		BaseSeats:             p.BaseSeats,
		CanBuyAdditionalSeats: p.CanBuyAdditionalSeats,
		BasePrice:             p.BasePrice,
		SeatPrice:             p.SeatPrice,
		TrialPeriodDays:       p.TrialDays(),
	}
}

// SubscriptionResponse is a subscription of the authenticated user.
// swagger:model SubscriptionResponse
type SubscriptionResponse struct {
	ID                string          `json:"id"`
	PlanID            string          `json:"planID"`
	Status            string          `json:"status"`
	TaxPercent        decimal.Decimal `json:"taxPercent"`
	TrialEnd          *time.Time      `json:"trialEnd,omitempty"`
	CurrentPeriodEnd  time.Time       `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool            `json:"cancelAtPeriodEnd"`
	EndsAt            *time.Time      `json:"endsAt,omitempty"`
	// Whether the subscription still grants access
	Active  bool `json:"active"`
	InTrial bool `json:"inTrial"`
}

// SubscriptionFromDB converts a db.Subscription to a SubscriptionResponse,
// evaluating its state at now.
func SubscriptionFromDB(s *db.Subscription, now time.Time) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                s.ID,
		PlanID:            s.PlanID,
		Status:            s.Status,
		TaxPercent:        s.TaxPercent,
		TrialEnd:          s.TrialEnd,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		EndsAt:            s.EndsAt,
		Active:            s.Active(now),
		InTrial:           s.InTrial(now),
	}
}

// CancelResponse reports when a canceled subscription stops.
// swagger:model CancelResponse
type CancelResponse struct {
	EndsAt time.Time `json:"endsAt"`
}

// InvoiceResponse is an invoice of the authenticated user. Amounts are in
// minor currency units.
// swagger:model InvoiceResponse
type InvoiceResponse struct {
	ID          string    `json:"id"`
	Currency    string    `json:"currency"`
	AmountDue   int64     `json:"amountDue"`
	AmountPaid  int64     `json:"amountPaid"`
	Total       int64     `json:"total"`
	Paid        bool      `json:"paid"`
	Status      string    `json:"status"`
	HostedURL   string    `json:"hostedURL,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// InvoiceFromDB converts a db.Invoice to an InvoiceResponse.
func InvoiceFromDB(i *db.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:          i.ID,
		Currency:    i.Currency,
		AmountDue:   i.AmountDue,
		AmountPaid:  i.AmountPaid,
		Total:       i.Total,
		Paid:        i.Paid,
		Status:      i.Status,
		HostedURL:   i.HostedURL,
		PeriodStart: i.PeriodStart,
		PeriodEnd:   i.PeriodEnd,
	}
}

// CardResponse shows a stored card without its sensitive data.
// swagger:model CardResponse
type CardResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

// CardFromDB converts a db.CreditCard to a CardResponse.
func CardFromDB(c *db.CreditCard) CardResponse {
	return CardResponse{
		ID:       c.ID,
		Name:     c.Name,
		Brand:    c.Brand,
		Last4:    c.Last4,
		ExpMonth: c.ExpMonth,
		ExpYear:  c.ExpYear,
	}
}

// CheckoutResponse is returned once the payment form has been processed.
// swagger:model CheckoutResponse
type CheckoutResponse struct {
	CustomerID    string                 `json:"customerID"`
	Card          CardResponse           `json:"card"`
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}
