package db

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/vocdoni/saas-billing/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// initCollections creates the collections in the MongoDB database if they
// don't exist. It also includes the registered validations for every
// collection.
func (ms *MongoStorage) initCollections(database string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// get the current collections names to create only the missing ones
	currentCollections, err := ms.collectionNames(ctx, database)
	if err != nil {
		return err
	}
	// aux method to get a collection if it exists, or create it if it doesn't
	getCollection := func(name string) (*mongo.Collection, error) {
		alreadyCreated := false
		for _, c := range currentCollections {
			if c == name {
				alreadyCreated = true
				break
			}
		}
		validator, hasValidator := collectionsValidators[name]
		if alreadyCreated {
			if hasValidator {
				err := ms.client.Database(database).RunCommand(ctx, bson.D{
					{Key: "collMod", Value: name},
					{Key: "validator", Value: validator},
				}).Err()
				if err != nil {
					return nil, fmt.Errorf("failed to update collection validator: %w", err)
				}
			}
		} else {
			opts := options.CreateCollection()
			if hasValidator {
				opts = opts.SetValidator(validator).SetValidationLevel("strict").SetValidationAction("error")
			}
			if err := ms.client.Database(database).CreateCollection(ctx, name, opts); err != nil {
				return nil, err
			}
		}
		return ms.client.Database(database).Collection(name), nil
	}
	if ms.users, err = getCollection("users"); err != nil {
		return err
	}
	if ms.subscriptionPlans, err = getCollection("subscriptionPlans"); err != nil {
		return err
	}
	if ms.subscriptions, err = getCollection("subscriptions"); err != nil {
		return err
	}
	if ms.invoices, err = getCollection("invoices"); err != nil {
		return err
	}
	if ms.creditCards, err = getCollection("creditCards"); err != nil {
		return err
	}
	return nil
}

// collectionNames returns the names of the collections in the given database.
func (ms *MongoStorage) collectionNames(ctx context.Context, database string) ([]string, error) {
	collectionsCursor, err := ms.client.Database(database).ListCollections(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := collectionsCursor.Close(ctx); err != nil {
			log.Warnw("failed to close collections cursor", "error", err)
		}
	}()
	collections := []bson.D{}
	if err := collectionsCursor.All(ctx, &collections); err != nil {
		return nil, err
	}
	names := []string{}
	for _, col := range collections {
		for _, v := range col {
			if v.Key == "name" {
				names = append(names, v.Value.(string))
			}
		}
	}
	return names, nil
}

// createIndexes creates the indexes for the collections in the MongoDB
// database. Add more indexes here as needed.
func (ms *MongoStorage) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	// users are looked up by email and by their provider customer
	if _, err := ms.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "stripeCustomerID", Value: 1}}, Options: options.Index().SetSparse(true)},
	}); err != nil {
		return fmt.Errorf("failed to create indexes for users: %w", err)
	}
	if _, err := ms.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userID", Value: 1}}},
		{Keys: bson.D{{Key: "stripeSubscriptionID", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create indexes for subscriptions: %w", err)
	}
	if _, err := ms.subscriptionPlans.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stripePlanID", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create index on stripePlanID for plans: %w", err)
	}
	if _, err := ms.invoices.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userID", Value: 1}}},
		{Keys: bson.D{{Key: "stripeInvoiceID", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create indexes for invoices: %w", err)
	}
	if _, err := ms.creditCards.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userID", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create index on userID for credit cards: %w", err)
	}
	return nil
}

var bsonKeysCache sync.Map // reflect.Type -> map[string]string

// bsonKey returns the document key of the struct field of T named field. The
// lookup is case sensitive on the Go field name but also accepts the bson key
// itself.
func bsonKey[T any](field string) (string, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	cached, ok := bsonKeysCache.Load(typ)
	if !ok {
		keys := make(map[string]string, typ.NumField())
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("bson"), ",")
			switch name {
			case "-":
				continue
			case "":
				name = strings.ToLower(f.Name)
			}
			keys[f.Name] = name
			keys[name] = name
		}
		cached, _ = bsonKeysCache.LoadOrStore(typ, keys)
	}
	key, ok := cached.(map[string]string)[field]
	if !ok {
		return "", fmt.Errorf("%w: unknown field %q on %s", ErrInvalidData, field, typ.Name())
	}
	return key, nil
}
