package storage

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestOpenErrors(t *testing.T) {
	c := qt.New(t)

	_, err := Open(Config{Driver: "sqlserver"})
	c.Assert(err, qt.ErrorMatches, `unknown database driver "sqlserver"`)
	_, err = Open(Config{Driver: DriverPostgres})
	c.Assert(err, qt.ErrorMatches, "postgres DSN is not defined")
	_, err = Open(Config{Driver: DriverMongo, MongoDB: "billing"})
	c.Assert(err, qt.ErrorMatches, "mongo URL is not defined")
}
