package db

import (
	"github.com/pkg/errors"

	"github.com/riverchat/riverchat/internal/profile"
	"github.com/riverchat/riverchat/store"
	"github.com/riverchat/riverchat/store/db/postgres"
	"github.com/riverchat/riverchat/store/db/sqlite"
)

// PostgreSQL is the production database and the only driver with vector
// search (pgvector). SQLite covers development and testing; knowledge-chunk
// operations return a typed not-supported error there.

// NewDBDriver creates a new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
