package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/vocdoni/saas-billing/log"
)

// Error is used by handler functions to wrap errors, assigning a unique error
// code and the HTTP status that should be used.
type Error struct {
	Err        error  // Original error
	Code       int    // Error code
	HTTPstatus int    // HTTP status code to return
	LogLevel   string // Log level for this error (defaults to "debug")
	Data       any    // Optional data to include in the error response
}

// MarshalJSON returns a JSON containing Err.Error(), Code and Data.
//
// Example output: {"error":"subscription not found","code":40402}
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(
		struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
			Data  any    `json:"data,omitempty"`
		}{
			Error: e.Err.Error(),
			Code:  e.Code,
			Data:  e.Data,
		})
}

// Error returns the message of the wrapped error.
func (e Error) Error() string {
	return e.Err.Error()
}

// Unwrap gives errors.Is access to the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Write sends e as a JSON response with its HTTP status and logs it.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}

	pc, _, _, _ := runtime.Caller(1)
	caller := runtime.FuncForPC(pc).Name()

	switch {
	case e.HTTPstatus >= http.StatusInternalServerError:
		log.Errorw(e.Err, fmt.Sprintf("API error response [%d]", e.HTTPstatus),
			"code", e.Code, "caller", caller)
	case e.LogLevel == "warn":
		log.Warnw("API error response", "status", e.HTTPstatus, "error", e.Error(), "code", e.Code, "caller", caller)
	case e.LogLevel == "info":
		log.Infow("API error response", "status", e.HTTPstatus, "error", e.Error(), "code", e.Code)
	default:
		log.Debugw("API error response", "status", e.HTTPstatus, "error", e.Error(), "code", e.Code, "caller", caller)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPstatus)
	_, _ = w.Write(append(msg, '\n'))
}

// Withf returns a copy of Error with the Sprintf formatted string appended at the end of e.Err
func (e Error) Withf(format string, args ...any) Error {
	return e.With(fmt.Sprintf(format, args...))
}

// With returns a copy of Error with the string appended at the end of e.Err
func (e Error) With(s string) Error {
	e.Err = fmt.Errorf("%w: %v", e.Err, s)
	return e
}

// WithErr returns a copy of Error with err appended at the end of e.Err. Both
// stay reachable with errors.Is.
func (e Error) WithErr(err error) Error {
	e.Err = fmt.Errorf("%w: %w", e.Err, err)
	return e
}

// WithData returns a copy of Error carrying data in the response body.
func (e Error) WithData(data any) Error {
	e.Data = data
	return e
}
