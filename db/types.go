package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanType classifies a billing tier.
type PlanType int

const (
	PlanTypeNone PlanType = iota
	PlanTypeFree
	PlanTypeMonthly
	PlanTypeYearly
	PlanTypeDonation
)

func (t PlanType) String() string {
	switch t {
	case PlanTypeFree:
		return "free"
	case PlanTypeMonthly:
		return "monthly"
	case PlanTypeYearly:
		return "yearly"
	case PlanTypeDonation:
		return "donation"
	default:
		return "none"
	}
}

type User struct {
	ID               string    `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	Email            string    `json:"email" bson:"email" gorm:"size:255;uniqueIndex"`
	Name             string    `json:"name" bson:"name" gorm:"size:255"`
	StripeCustomerID string    `json:"stripeCustomerID" bson:"stripeCustomerID" gorm:"size:64;index"`
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
}

// SubscriptionPlan is the reference data describing a billing tier. It is
// managed by administrators and only read by the billing flows.
type SubscriptionPlan struct {
	ID                    string          `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	Name                  string          `json:"name" bson:"name" gorm:"size:255;not null"`
	StripePlanID          string          `json:"stripePlanID" bson:"stripePlanID" gorm:"size:64;index"`
	StripeSeatPlanID      string          `json:"stripeSeatPlanID,omitempty" bson:"stripeSeatPlanID,omitempty" gorm:"size:64"`
	Type                  PlanType        `json:"type" bson:"type"`
	BaseSeats             int16           `json:"baseSeats" bson:"baseSeats"`
	CanBuyAdditionalSeats bool            `json:"canBuyAdditionalSeats" bson:"canBuyAdditionalSeats"`
	BasePrice             decimal.Decimal `json:"basePrice" bson:"basePrice" gorm:"type:numeric(12,2)"`
	SeatPrice             decimal.Decimal `json:"seatPrice" bson:"seatPrice" gorm:"type:numeric(12,2)"`
	Disabled              bool            `json:"disabled" bson:"disabled"`
	TrialPeriodDays       *int            `json:"trialPeriodDays,omitempty" bson:"trialPeriodDays,omitempty"`
	CreatedAt             time.Time       `json:"createdAt" bson:"createdAt"`
}

// TrialDays returns the trial length of the plan, zero when it has none.
func (p *SubscriptionPlan) TrialDays() int {
	if p.TrialPeriodDays == nil || *p.TrialPeriodDays < 0 {
		return 0
	}
	return *p.TrialPeriodDays
}

type Subscription struct {
	ID                   string          `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	UserID               string          `json:"userID" bson:"userID" gorm:"size:64;index"`
	PlanID               string          `json:"planID" bson:"planID" gorm:"size:64"`
	StripeSubscriptionID string          `json:"stripeSubscriptionID" bson:"stripeSubscriptionID" gorm:"size:64;index"`
	StripePlanID         string          `json:"stripePlanID" bson:"stripePlanID" gorm:"size:64"`
	Status               string          `json:"status" bson:"status" gorm:"size:32"`
	TaxPercent           decimal.Decimal `json:"taxPercent" bson:"taxPercent" gorm:"type:numeric(6,3)"`
	TrialEnd             *time.Time      `json:"trialEnd,omitempty" bson:"trialEnd,omitempty"`
	CurrentPeriodEnd     time.Time       `json:"currentPeriodEnd" bson:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool            `json:"cancelAtPeriodEnd" bson:"cancelAtPeriodEnd"`
	EndsAt               *time.Time      `json:"endsAt,omitempty" bson:"endsAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt" bson:"createdAt"`
}

// Active reports whether the subscription still grants access at the given
// time.
func (s *Subscription) Active(now time.Time) bool {
	switch s.Status {
	case "canceled", "incomplete_expired", "unpaid":
		return false
	}
	return s.EndsAt == nil || now.Before(*s.EndsAt)
}

// InTrial reports whether the subscription trial has not elapsed yet.
func (s *Subscription) InTrial(now time.Time) bool {
	return s.TrialEnd != nil && s.TrialEnd.After(now)
}

type Invoice struct {
	ID                   string    `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	UserID               string    `json:"userID" bson:"userID" gorm:"size:64;index"`
	StripeInvoiceID      string    `json:"stripeInvoiceID" bson:"stripeInvoiceID" gorm:"size:64;index"`
	StripeCustomerID     string    `json:"stripeCustomerID" bson:"stripeCustomerID" gorm:"size:64"`
	StripeSubscriptionID string    `json:"stripeSubscriptionID,omitempty" bson:"stripeSubscriptionID,omitempty" gorm:"size:64"`
	Currency             string    `json:"currency" bson:"currency" gorm:"size:3"`
	AmountDue            int64     `json:"amountDue" bson:"amountDue"`
	AmountPaid           int64     `json:"amountPaid" bson:"amountPaid"`
	Total                int64     `json:"total" bson:"total"`
	Paid                 bool      `json:"paid" bson:"paid"`
	Status               string    `json:"status" bson:"status" gorm:"size:32"`
	HostedURL            string    `json:"hostedURL,omitempty" bson:"hostedURL,omitempty"`
	PeriodStart          time.Time `json:"periodStart" bson:"periodStart"`
	PeriodEnd            time.Time `json:"periodEnd" bson:"periodEnd"`
	CreatedAt            time.Time `json:"createdAt" bson:"createdAt"`
}

// CreditCard keeps the display data of a card stored on the provider side.
// Card numbers and security codes never reach this record.
type CreditCard struct {
	ID                    string    `json:"id" bson:"_id" gorm:"primaryKey;size:64"`
	UserID                string    `json:"userID" bson:"userID" gorm:"size:64;index"`
	StripePaymentMethodID string    `json:"stripePaymentMethodID" bson:"stripePaymentMethodID" gorm:"size:64"`
	Name                  string    `json:"name" bson:"name" gorm:"size:255"`
	Brand                 string    `json:"brand" bson:"brand" gorm:"size:32"`
	Last4                 string    `json:"last4" bson:"last4" gorm:"size:4"`
	ExpMonth              int       `json:"expMonth" bson:"expMonth"`
	ExpYear               int       `json:"expYear" bson:"expYear"`
	Fingerprint           string    `json:"fingerprint,omitempty" bson:"fingerprint,omitempty" gorm:"size:64"`
	AddressLine1          string    `json:"addressLine1,omitempty" bson:"addressLine1,omitempty"`
	AddressLine2          string    `json:"addressLine2,omitempty" bson:"addressLine2,omitempty"`
	City                  string    `json:"city,omitempty" bson:"city,omitempty"`
	State                 string    `json:"state,omitempty" bson:"state,omitempty"`
	Zip                   string    `json:"zip,omitempty" bson:"zip,omitempty"`
	Country               string    `json:"country,omitempty" bson:"country,omitempty" gorm:"size:2"`
	CreatedAt             time.Time `json:"createdAt" bson:"createdAt"`
}

func (u *User) EntityID() string { return u.ID }

func (u *User) SetEntityID(id string) { u.ID = id }

func (p *SubscriptionPlan) EntityID() string { return p.ID }

func (p *SubscriptionPlan) SetEntityID(id string) { p.ID = id }

func (s *Subscription) EntityID() string { return s.ID }

func (s *Subscription) SetEntityID(id string) { s.ID = id }

func (i *Invoice) EntityID() string { return i.ID }

func (i *Invoice) SetEntityID(id string) { i.ID = id }

func (c *CreditCard) EntityID() string { return c.ID }

func (c *CreditCard) SetEntityID(id string) { c.ID = id }
