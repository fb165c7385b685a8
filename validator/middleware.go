package validator

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vocdoni/saas-billing/errors"
	"github.com/vocdoni/saas-billing/log"
)

// keys for storing models in context
type (
	modelKey          struct{}
	validatedModelKey struct{}
)

// ValidationError represents an individual validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a slice of ValidationError.
type ValidationErrors []ValidationError

// Error returns a string representation of the validation errors.
func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return sb.String()
}

// Explain converts the error returned by Validate into ValidationErrors.
// Errors of any other kind are returned unchanged.
func Explain(err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return err
	}
	ve := make(ValidationErrors, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		ve = append(ve, ValidationError{
			Field:   fieldErr.Namespace(),
			Message: getErrorMessage(fieldErr),
		})
	}
	return ve
}

// WithModel stores the model type the next InputValidator will decode the
// request body into.
func (*Validator) WithModel(model any) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), modelKey{}, model)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InputValidator decodes the JSON request body into the model stored in the
// context and validates it. On success the validated instance is added to
// the context for downstream handlers, see Model.
func (v *Validator) InputValidator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
			next.ServeHTTP(w, r)
			return
		}
		model := r.Context().Value(modelKey{})
		if model == nil {
			next.ServeHTTP(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
			errors.ErrMalformedBody.Withf("unsupported content type %s", ct).Write(w)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			errors.ErrMalformedBody.Write(w)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		instance := reflect.New(reflect.TypeOf(model)).Interface()
		if err := json.Unmarshal(body, instance); err != nil {
			errors.ErrMalformedBody.Write(w)
			return
		}
		if err := v.validator.Struct(instance); err != nil {
			err = Explain(err)
			log.Debugw("validation errors", "errors", err.Error())
			errors.ErrInvalidData.WithErr(err).WithData(err).Write(w)
			return
		}

		ctx := context.WithValue(r.Context(), validatedModelKey{}, instance)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Model returns the validated request body stored by InputValidator.
func Model[T any](ctx context.Context) (*T, bool) {
	m, ok := ctx.Value(validatedModelKey{}).(*T)
	return m, ok
}

// getErrorMessage returns a human-readable error message for a validation error.
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("Must be at least %s characters long", err.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters long", err.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", err.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", err.Param())
	case "credit_card":
		return "Invalid card number"
	case "cvc":
		return "Invalid CVC number"
	case "month":
		return "Invalid month"
	case "expyear":
		return "Invalid year"
	case "phone":
		return "Invalid phone number format"
	case "iso3166_1_alpha2":
		return "Invalid country code"
	default:
		return fmt.Sprintf("Invalid value: %s", err.Tag())
	}
}
