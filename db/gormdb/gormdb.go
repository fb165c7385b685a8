// Package gormdb implements the billing data context on top of a SQL database
// through GORM. Postgres is used in production and SQLite in tests.
package gormdb

import (
	"context"
	"fmt"
	"time"

	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the SQL implementation of db.Database.
type Storage struct {
	db *gorm.DB
}

var _ db.Database = (*Storage)(nil)

// models lists the entities migrated and reset by the storage, in the order
// their changes are saved.
var models = []any{
	&db.User{},
	&db.SubscriptionPlan{},
	&db.Subscription{},
	&db.CreditCard{},
	&db.Invoice{},
}

// gormWriter forwards the GORM logger output to the service logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	log.Debugf("gorm: "+format, args...)
}

// Open connects through the given dialector and migrates the billing schema.
func Open(dialector gorm.Dialector) (*Storage, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if err := gdb.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("cannot migrate database: %w", err)
	}
	log.Infow("connected to sql database", "dialect", dialector.Name())
	return &Storage{db: gdb}, nil
}

// OpenPostgres opens a Postgres database with the given DSN.
func OpenPostgres(dsn string) (*Storage, error) {
	return Open(postgres.Open(dsn))
}

func (s *Storage) NewContext() db.DataContext {
	return &gormContext{
		db:                s.db,
		users:             newGormSet[db.User](s.db),
		subscriptionPlans: newGormSet[db.SubscriptionPlan](s.db),
		subscriptions:     newGormSet[db.Subscription](s.db),
		creditCards:       newGormSet[db.CreditCard](s.db),
		invoices:          newGormSet[db.Invoice](s.db),
	}
}

// Reset deletes every billing record.
func (s *Storage) Reset() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := len(models) - 1; i >= 0; i-- {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(models[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) Close() {
	sqlDB, err := s.db.DB()
	if err != nil {
		log.Warn(err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn(err)
	}
}

type gormContext struct {
	db                *gorm.DB
	users             *gormSet[db.User]
	subscriptionPlans *gormSet[db.SubscriptionPlan]
	subscriptions     *gormSet[db.Subscription]
	creditCards       *gormSet[db.CreditCard]
	invoices          *gormSet[db.Invoice]
}

func (gc *gormContext) Users() db.RecordSet[db.User]                 { return gc.users }
func (gc *gormContext) Subscriptions() db.RecordSet[db.Subscription] { return gc.subscriptions }
func (gc *gormContext) SubscriptionPlans() db.RecordSet[db.SubscriptionPlan] {
	return gc.subscriptionPlans
}
func (gc *gormContext) Invoices() db.RecordSet[db.Invoice]       { return gc.invoices }
func (gc *gormContext) CreditCards() db.RecordSet[db.CreditCard] { return gc.creditCards }

type flusher interface {
	flush(tx *gorm.DB) (stored int, affected int, err error)
	commit(stored int)
}

// SaveChanges runs every pending change in a single SQL transaction. Nothing
// is stored if any of them fails.
func (gc *gormContext) SaveChanges(ctx context.Context) (int, error) {
	sets := []flusher{gc.users, gc.subscriptionPlans, gc.subscriptions, gc.creditCards, gc.invoices}
	stored := make([]int, len(sets))
	total := 0
	err := gc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total = 0
		for i, set := range sets {
			s, n, err := set.flush(tx)
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
