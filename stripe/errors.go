package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v82"
)

// StripeError represents a billing error raised before or after talking to
// Stripe. Errors returned by the Stripe API are kept in Err.
type StripeError struct {
	Code    string
	Message string
	Err     error
}

func (e *StripeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stripe error [%s]: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("stripe error [%s]: %s", e.Code, e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StripeError with the same code, so errors
// built with NewStripeError match the sentinels below.
func (e *StripeError) Is(target error) bool {
	t, ok := target.(*StripeError)
	return ok && t.Code == e.Code
}

// Common Stripe errors
var (
	ErrInvalidEvent         = &StripeError{Code: "invalid_event", Message: "invalid webhook event"}
	ErrWebhookValidation    = &StripeError{Code: "webhook_validation", Message: "webhook signature validation failed"}
	ErrInvalidConfiguration = &StripeError{Code: "invalid_configuration", Message: "invalid stripe configuration"}
	ErrAPICallFailed        = &StripeError{Code: "api_call_failed", Message: "stripe API call failed"}
	ErrMissingCustomer      = &StripeError{Code: "missing_customer", Message: "user has no stripe customer"}
	ErrMissingPlan          = &StripeError{Code: "missing_plan", Message: "no plan given"}
	ErrCustomerMismatch     = &StripeError{Code: "customer_mismatch", Message: "subscription belongs to another customer"}
	ErrNoSubscriptionItems  = &StripeError{Code: "no_subscription_items", Message: "subscription has no items"}
	ErrNoEndDate            = &StripeError{Code: "no_end_date", Message: "stripe reported no end date for the subscription"}
	ErrInvalidTaxPercent    = &StripeError{Code: "invalid_tax_percent", Message: "tax percent must be between 0 and 100"}
	ErrInvalidTrial         = &StripeError{Code: "invalid_trial", Message: "trial days cannot be negative"}
	// ErrListNotSupported is returned when listing the subscriptions of a
	// user from Stripe. It matches errors.ErrUnsupported.
	ErrListNotSupported = &StripeError{
		Code:    "list_not_supported",
		Message: "listing user subscriptions is not supported",
		Err:     errors.ErrUnsupported,
	}
)

// NewStripeError creates a new StripeError with the given code, message, and underlying error
func NewStripeError(code, message string, err error) *StripeError {
	return &StripeError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Classify maps an error to the outcome a caller should act on. Errors
// answered by Stripe with a 4xx status and local precondition failures are
// rejections, while network failures, rate limiting and 5xx answers mean the
// provider is unavailable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeApplied
	}
	var apiErr *stripeapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError,
			apiErr.Type == stripeapi.ErrorTypeAPI:
			return OutcomeUnavailable
		default:
			return OutcomeRejected
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeUnavailable
	}
	var stripeErr *StripeError
	if errors.As(err, &stripeErr) && stripeErr.Code != ErrAPICallFailed.Code {
		return OutcomeRejected
	}
	return OutcomeUnavailable
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	return err != nil && Classify(err) == OutcomeUnavailable
}
