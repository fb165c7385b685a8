package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// WithTransaction executes the provided function within a MongoDB transaction.
// The function may be retried by the driver on transient errors, so it must
// not have side effects outside of the session.
func (ms *MongoStorage) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := ms.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnFn := func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	}

	txnCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := session.WithTransaction(txnCtx, txnFn); err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}
