package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
)

const (
	// Recycle connections so long-lived pools shed server-side state.
	pgConnMaxLifetime = 30 * time.Minute
	pgConnMaxIdleTime = 5 * time.Minute
)

// openPostgres opens the server-grade engine with a bounded connection pool.
func openPostgres(cfg config.Database) (Driver, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errdefs.Storage.Wrap(err)
	}

	db.SetMaxOpenConns(cfg.PoolMaxSize)
	db.SetMaxIdleConns(cfg.PoolMinSize)
	db.SetConnMaxLifetime(pgConnMaxLifetime)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errdefs.Storage.Wrap(err)
	}

	return &sqlDriver{
		db:     db,
		kind:   config.DatabaseServer,
		rebind: numberedRebind,
		ph:     func(i int) string { return fmt.Sprintf("$%d", i) },
	}, nil
}
