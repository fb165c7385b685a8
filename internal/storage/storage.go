// Package storage opens the billing database selected by the command line
// configuration.
package storage

import (
	"fmt"

	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/db/gormdb"
)

// Supported database drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config selects and locates the database.
type Config struct {
	Driver      string
	MongoURL    string
	MongoDB     string
	MongoTxn    bool
	PostgresDSN string
}

// Open connects to the configured database.
func Open(c Config) (db.Database, error) {
	switch c.Driver {
	case DriverMongo, "":
		ms, err := db.NewWithOptions(db.Options{
			MongoURL:     c.MongoURL,
			Database:     c.MongoDB,
			Transactions: c.MongoTxn,
		})
		if err != nil {
			return nil, err
		}
		return ms, nil
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is not defined")
		}
		s, err := gormdb.OpenPostgres(c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", c.Driver)
	}
}
