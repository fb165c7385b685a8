package validator

import (
	"reflect"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vocdoni/saas-billing/internal"
)

const (
	// two-digit card expiry years accepted by the payment form
	minExpiryYear = 17
	maxExpiryYear = 30
)

// cvcRegex matches the three digit card security code.
var cvcRegex = regexp.MustCompile(`^[0-9]{3}$`)

// Validator is a wrapper around the go-playground/validator package.
type Validator struct {
	validator *validator.Validate
}

// New creates a new Validator instance with the billing form rules
// registered.
func New() *Validator {
	v := validator.New()

	_ = v.RegisterValidation("cvc", validateCVC)
	_ = v.RegisterValidation("month", validateMonth)
	_ = v.RegisterValidation("expyear", validateExpiryYear)
	_ = v.RegisterValidation("phone", validatePhone)
	// decimals are compared as numbers by gte/lte/min/max
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	return &Validator{
		validator: v,
	}
}

// Validate validates a struct using the validator package.
func (v *Validator) Validate(s any) error {
	return v.validator.Struct(s)
}

func decimalValue(field reflect.Value) any {
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return f
}

func validateCVC(fl validator.FieldLevel) bool {
	return cvcRegex.MatchString(fieldString(fl.Field()))
}

func validateMonth(fl validator.FieldLevel) bool {
	n, ok := fieldInt(fl.Field())
	return ok && n >= 1 && n <= 12
}

func validateExpiryYear(fl validator.FieldLevel) bool {
	n, ok := fieldInt(fl.Field())
	return ok && n >= minExpiryYear && n <= maxExpiryYear
}

// validatePhone checks the number against the numbering plan of the Country
// field of the same struct, falling back to the default country.
func validatePhone(fl validator.FieldLevel) bool {
	phone := fl.Field().String()
	if phone == "" {
		return true
	}
	country := internal.DefaultPhoneCountry
	if parent := fl.Parent(); parent.Kind() == reflect.Struct {
		if f := parent.FieldByName("Country"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
			country = f.String()
		}
	}
	_, err := internal.SanitizeAndVerifyPhoneNumber(phone, country)
	return err == nil
}

func fieldString(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	default:
		return ""
	}
}

func fieldInt(v reflect.Value) (int64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.String:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
