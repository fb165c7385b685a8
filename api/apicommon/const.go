// Package apicommon provides common types, constants, and helper functions for the API.
package apicommon

// MetadataKey is a type to define the key for the metadata stored in the
// context.
type MetadataKey string

// UserMetadataKey is the key used to store the user in the context.
const UserMetadataKey MetadataKey = "user"

const (
	// SubscriptionIDURLParam is the route parameter holding the local
	// subscription id.
	SubscriptionIDURLParam = "id"
	// TwoDigitYearBase turns the two-digit expiry years of the payment form
	// into full years.
	TwoDigitYearBase = 2000
)
