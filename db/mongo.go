package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vocdoni/saas-billing/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStorage uses an external MongoDB service for storing the billing
// records. It implements Database.
type MongoStorage struct {
	client       *mongo.Client
	database     string
	transactions bool

	users             *mongo.Collection
	subscriptions     *mongo.Collection
	subscriptionPlans *mongo.Collection
	invoices          *mongo.Collection
	creditCards       *mongo.Collection
}

var _ Database = (*MongoStorage)(nil)

type Options struct {
	MongoURL string
	Database string
	// Transactions wraps every SaveChanges call in a multi-document
	// transaction. It requires a replica set deployment.
	Transactions bool
}

// New connects to the MongoDB server at url and prepares the collections of
// the given database.
func New(url, database string) (*MongoStorage, error) {
	return NewWithOptions(Options{MongoURL: url, Database: database})
}

func NewWithOptions(o Options) (*MongoStorage, error) {
	if o.MongoURL == "" {
		return nil, fmt.Errorf("mongo URL is not defined")
	}
	if o.Database == "" {
		return nil, fmt.Errorf("mongo database is not defined")
	}
	log.Infow("connecting to mongodb", "database", o.Database, "transactions", o.Transactions)
	// preparing connection
	opts := options.Client()
	opts.ApplyURI(o.MongoURL)
	opts.SetMaxConnecting(200)
	opts.SetRegistry(newRegistry())
	timeout := time.Second * 10
	opts.ConnectTimeout = &timeout
	// create a new client with the connection options
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	// check if the connection is successful
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	ms := &MongoStorage{
		client:       client,
		database:     o.Database,
		transactions: o.Transactions,
	}
	if err := ms.initCollections(o.Database); err != nil {
		return nil, err
	}
	// if reset flag is enabled, Reset drops the database documents and
	// recreates indexes, else just createIndexes
	if reset := os.Getenv("BILLING_MONGO_RESET_DB"); reset != "" {
		if err := ms.Reset(); err != nil {
			return nil, err
		}
	} else if err := ms.createIndexes(); err != nil {
		return nil, err
	}
	return ms, nil
}

// NewContext returns a new unit of work over the storage collections.
func (ms *MongoStorage) NewContext() DataContext {
	return &mongoContext{
		ms:                ms,
		users:             newMongoSet[User](ms.users),
		subscriptions:     newMongoSet[Subscription](ms.subscriptions),
		subscriptionPlans: newMongoSet[SubscriptionPlan](ms.subscriptionPlans),
		invoices:          newMongoSet[Invoice](ms.invoices),
		creditCards:       newMongoSet[CreditCard](ms.creditCards),
	}
}

func (ms *MongoStorage) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ms.client.Disconnect(ctx); err != nil {
		log.Warn(err)
	}
}

// Reset drops every billing collection and recreates the indexes.
func (ms *MongoStorage) Reset() error {
	log.Infof("resetting database")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, col := range ms.collections() {
		if _, err := col.DeleteMany(ctx, map[string]any{}); err != nil {
			return fmt.Errorf("cannot reset collection %s: %w", col.Name(), err)
		}
	}
	return ms.createIndexes()
}

func (ms *MongoStorage) collections() []*mongo.Collection {
	return []*mongo.Collection{ms.users, ms.subscriptions, ms.subscriptionPlans, ms.invoices, ms.creditCards}
}

// mongoContext is the DataContext implementation of MongoStorage.
type mongoContext struct {
	ms                *MongoStorage
	users             *mongoSet[User]
	subscriptions     *mongoSet[Subscription]
	subscriptionPlans *mongoSet[SubscriptionPlan]
	invoices          *mongoSet[Invoice]
	creditCards       *mongoSet[CreditCard]
}

func (mc *mongoContext) Users() RecordSet[User]                 { return mc.users }
func (mc *mongoContext) Subscriptions() RecordSet[Subscription] { return mc.subscriptions }
func (mc *mongoContext) SubscriptionPlans() RecordSet[SubscriptionPlan] {
	return mc.subscriptionPlans
}
func (mc *mongoContext) Invoices() RecordSet[Invoice]       { return mc.invoices }
func (mc *mongoContext) CreditCards() RecordSet[CreditCard] { return mc.creditCards }

// flusher is implemented by every mongoSet, whatever its entity type.
type flusher interface {
	// flush writes the pending changes and returns how many were stored
	// and the number of records they affected.
	flush(ctx context.Context) (stored int, affected int, err error)
	commit(stored int)
}

// SaveChanges writes the pending changes of every record set. Users and
// plans go first so the records referencing them are stored after them.
func (mc *mongoContext) SaveChanges(ctx context.Context) (int, error) {
	sets := []flusher{mc.users, mc.subscriptionPlans, mc.subscriptions, mc.creditCards, mc.invoices}
	if !mc.ms.transactions {
		total := 0
		for _, set := range sets {
			stored, n, err := set.flush(ctx)
			set.commit(stored)
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	}
	stored := make([]int, len(sets))
	total := 0
	err := mc.ms.WithTransaction(ctx, func(sc mongo.SessionContext) error {
		total = 0
		for i, set := range sets {
			s, n, err := set.flush(sc)
			if err != nil {
				return err
			}
			stored[i] = s
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, set := range sets {
		set.commit(stored[i])
	}
	return total, nil
}
