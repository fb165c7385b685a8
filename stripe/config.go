package stripe

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultMaxNetworkRetries is the number of times stripe-go retries a
// request that failed on the network or with a retryable status.
const DefaultMaxNetworkRetries = 2

// Config holds the complete Stripe configuration
type Config struct {
	APIKey        string `yaml:"api_key" json:"api_key"`
	WebhookSecret string `yaml:"webhook_secret" json:"webhook_secret"`
	// BackendURL overrides the Stripe API location, used to point the
	// client to stripe-mock or to a test server.
	BackendURL        string          `yaml:"backend_url" json:"backend_url"`
	MaxNetworkRetries int64           `yaml:"max_network_retries" json:"max_network_retries"`
	TaxPercent        decimal.Decimal `yaml:"tax_percent" json:"tax_percent"`
}

// NewConfig creates a new Stripe configuration from environment variables
func NewConfig() (*Config, error) {
	apiKey := os.Getenv("BILLING_STRIPE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("BILLING_STRIPE_API_KEY environment variable is required")
	}
	webhookSecret := os.Getenv("BILLING_STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		return nil, fmt.Errorf("BILLING_STRIPE_WEBHOOK_SECRET environment variable is required")
	}
	config := &Config{
		APIKey:            apiKey,
		WebhookSecret:     webhookSecret,
		BackendURL:        os.Getenv("BILLING_STRIPE_BACKEND_URL"),
		MaxNetworkRetries: DefaultMaxNetworkRetries,
	}
	if retries := os.Getenv("BILLING_STRIPE_MAX_NETWORK_RETRIES"); retries != "" {
		n, err := strconv.ParseInt(retries, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid BILLING_STRIPE_MAX_NETWORK_RETRIES value %q", retries)
		}
		config.MaxNetworkRetries = n
	}
	if tax := os.Getenv("BILLING_STRIPE_TAX_PERCENT"); tax != "" {
		percent, err := decimal.NewFromString(tax)
		if err != nil {
			return nil, fmt.Errorf("invalid BILLING_STRIPE_TAX_PERCENT value %q: %w", tax, err)
		}
		config.TaxPercent = percent
	}
	return config, config.Validate()
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return NewStripeError(ErrInvalidConfiguration.Code, "missing API key", nil)
	}
	if c.MaxNetworkRetries < 0 {
		return NewStripeError(ErrInvalidConfiguration.Code, "negative network retries", nil)
	}
	if !validTaxPercent(c.TaxPercent) {
		return NewStripeError(ErrInvalidConfiguration.Code, "invalid tax percent", ErrInvalidTaxPercent)
	}
	return nil
}
