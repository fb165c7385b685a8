// Package errors provides the coded errors returned by the billing API.
//
//nolint:lll
package errors

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the caller's fault and return a
// 4xx HTTP status. Codes 50001-59999 are the server's fault.
//
// NEVER change any of the current error codes, only append new ones. There
// is no correlation between Code and HTTP status.
var (
	// Authentication errors (401)
	ErrUnauthorized = Error{Code: 40001, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("authentication required"), LogLevel: "info"}

	// Validation errors (400)
	ErrMalformedBody         = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid JSON request body")}
	ErrMalformedURLParam     = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid URL parameter")}
	ErrInvalidData           = Error{Code: 40037, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid data provided")}
	ErrInvalidTaxPercent     = Error{Code: 40040, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("tax percent must be between 0 and 100")}
	ErrPlanDisabled          = Error{Code: 40041, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("subscription plan is disabled")}
	ErrStripeRejected        = Error{Code: 40043, HTTPstatus: http.StatusPaymentRequired, Err: fmt.Errorf("payment provider rejected the request"), LogLevel: "info"}
	ErrWebhookSignature      = Error{Code: 40044, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid webhook signature"), LogLevel: "warn"}
	ErrSubscriptionEnded     = Error{Code: 40045, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("subscription already ended")}
	ErrNotSupported          = Error{Code: 40025, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("feature not supported")}
	ErrMissingCustomer       = Error{Code: 40046, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("user has no billing customer")}
	ErrSubscriptionForbidden = Error{Code: 40347, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("subscription belongs to another customer"), LogLevel: "warn"}

	// Not found errors (404)
	ErrUserNotFound         = Error{Code: 40018, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("user not found")}
	ErrPlanNotFound         = Error{Code: 40023, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("subscription plan not found")}
	ErrSubscriptionNotFound = Error{Code: 40402, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("subscription not found")}

	// Server errors (500/503)
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: operation failed"), LogLevel: "error"}
	ErrInternalStorageError       = Error{Code: 50006, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: storage operation failed"), LogLevel: "error"}
	ErrStripeWebhookError         = Error{Code: 50008, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: stripe webhook failed"), LogLevel: "error"}
	ErrStripeUnavailable          = Error{Code: 50301, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("payment provider unavailable, try again later"), LogLevel: "warn"}
)
