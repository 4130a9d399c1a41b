package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
)

// openSQLite opens the embedded single-file engine. SQLite permits exactly
// one writer, so the connection pool is pinned to a single connection and
// writes serialize behind it.
func openSQLite(cfg config.Database) (Driver, error) {
	path := cfg.Path
	if path == "" {
		path = "./pacfleet.db"
	}

	dsn := fmt.Sprintf("file:%s?_loc=UTC&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errdefs.Storage.Wrap(err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errdefs.Storage.Wrap(err)
	}

	return &sqlDriver{
		db:     db,
		kind:   config.DatabaseEmbedded,
		rebind: identityRebind,
		ph:     func(int) string { return "?" },
	}, nil
}
