package stripe

import (
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
)

// Outcome is the result kind of a subscription change.
type Outcome int

const (
	// OutcomeApplied means Stripe accepted and applied the change.
	OutcomeApplied Outcome = iota
	// OutcomeNoop means the subscription was already in the requested state
	// and no update was sent.
	OutcomeNoop
	// OutcomeRejected means Stripe answered with a client error, or a local
	// precondition failed before calling it.
	OutcomeRejected
	// OutcomeUnavailable means Stripe could not be reached, rate limited the
	// request or failed with a server error.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNoop:
		return "noop"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is returned by the subscription updates that never fail with an
// error. Err holds the cause when the outcome is a failure.
type Result struct {
	Outcome      Outcome
	Subscription *SubscriptionInfo
	Err          error
}

// OK reports whether the subscription ended in the requested state.
func (r Result) OK() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeNoop
}

func failed(err error) Result {
	return Result{Outcome: Classify(err), Err: err}
}

// SubscriptionInfo is the subset of a Stripe subscription used by the
// billing flows.
type SubscriptionInfo struct {
	ID                string
	CustomerID        string
	PlanID            string
	ItemID            string
	Status            stripeapi.SubscriptionStatus
	TrialEnd          *time.Time
	CurrentPeriodEnd  time.Time
	CancelAt          *time.Time
	CancelAtPeriodEnd bool
	EndedAt           *time.Time
	TaxRateIDs        []string
	Metadata          map[string]string
}

func newSubscriptionInfo(s *stripeapi.Subscription) *SubscriptionInfo {
	if s == nil {
		return nil
	}
	info := &SubscriptionInfo{
		ID:                s.ID,
		Status:            s.Status,
		TrialEnd:          unixTime(s.TrialEnd),
		CancelAt:          unixTime(s.CancelAt),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		EndedAt:           unixTime(s.EndedAt),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		info.CustomerID = s.Customer.ID
	}
	if item := firstItem(s); item != nil {
		info.ItemID = item.ID
		info.PlanID = itemPlanID(item)
		if item.CurrentPeriodEnd > 0 {
			info.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		}
	}
	for _, rate := range s.DefaultTaxRates {
		if rate != nil {
			info.TaxRateIDs = append(info.TaxRateIDs, rate.ID)
		}
	}
	return info
}

// EndsAt returns the time Stripe reports the subscription stops, preferring
// the scheduled cancellation, then the end of the current period and
// finally the time it already ended. It is zero when none is known.
func (s *SubscriptionInfo) EndsAt() time.Time {
	switch {
	case s.CancelAt != nil:
		return *s.CancelAt
	case !s.CurrentPeriodEnd.IsZero():
		return s.CurrentPeriodEnd
	case s.EndedAt != nil:
		return *s.EndedAt
	default:
		return time.Time{}
	}
}

func firstItem(s *stripeapi.Subscription) *stripeapi.SubscriptionItem {
	if s == nil || s.Items == nil || len(s.Items.Data) == 0 {
		return nil
	}
	return s.Items.Data[0]
}

func itemPlanID(item *stripeapi.SubscriptionItem) string {
	switch {
	case item.Price != nil:
		return item.Price.ID
	case item.Plan != nil:
		return item.Plan.ID
	default:
		return ""
	}
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
