package db

import (
	"context"

	"github.com/google/uuid"
)

// Database is a storage backend able to open units of work.
type Database interface {
	// NewContext returns a fresh data context. Contexts are not safe for
	// concurrent use, open one per request.
	NewContext() DataContext
	// Reset drops every billing record and recreates the indexes.
	Reset() error
	Close()
}

// DataContext groups the typed record sets of the billing domain. Reads hit
// the backend immediately while writes are queued until SaveChanges.
type DataContext interface {
	Users() RecordSet[User]
	Subscriptions() RecordSet[Subscription]
	SubscriptionPlans() RecordSet[SubscriptionPlan]
	Invoices() RecordSet[Invoice]
	CreditCards() RecordSet[CreditCard]
	// SaveChanges persists every pending change and returns the number of
	// affected records. Pending changes are kept if it fails.
	SaveChanges(ctx context.Context) (int, error)
}

// RecordSet gives access to the records of a single entity type. Field names
// used by First and Where are Go struct field names, e.g. "StripeCustomerID".
type RecordSet[T any] interface {
	Find(ctx context.Context, id string) (*T, error)
	First(ctx context.Context, field string, value any) (*T, error)
	Where(ctx context.Context, field string, value any) ([]*T, error)
	All(ctx context.Context) ([]*T, error)
	Add(item *T)
	Update(item *T)
	Remove(item *T)
}

// Entity is implemented by every persisted record.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
}

// ensureID assigns a new identifier to the item if it has none yet.
func ensureID(item any) {
	if e, ok := item.(Entity); ok && e.EntityID() == "" {
		e.SetEntityID(uuid.NewString())
	}
}

// IDOf returns the identifier of an entity, or "" if item is not one.
func IDOf(item any) string {
	if e, ok := item.(Entity); ok {
		return e.EntityID()
	}
	return ""
}
