package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
)

// Scanner is the per-row scan surface handed to FetchAll callbacks.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// PoolStats reports connection pool usage for the active driver.
type PoolStats struct {
	MaxOpen int `json:"max_open"`
	Open    int `json:"open"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
}

// Driver isolates the engine differences (placeholder syntax, JSON column
// types, timestamp storage, upsert forms) behind one query surface. Queries
// are written with `?` placeholders; Rebind translates them for engines that
// number their parameters.
type Driver interface {
	Kind() config.DatabaseKind

	Exec(ctx context.Context, query string, args ...interface{}) error
	FetchOne(ctx context.Context, query string, args []interface{}, dest ...interface{}) error
	FetchAll(ctx context.Context, query string, args []interface{}, scan func(Scanner) error) error
	FetchScalar(ctx context.Context, query string, args ...interface{}) (interface{}, error)

	// Tx runs fn inside a transaction, rolling back on error.
	Tx(ctx context.Context, fn func(tx Querier) error) error

	// Placeholder returns the engine's placeholder for 1-based index i.
	Placeholder(i int) string
	// Rebind rewrites `?` placeholders into the engine's native form.
	Rebind(query string) string

	HealthPing(ctx context.Context) error
	Stats() PoolStats
	Close() error
}

// Querier is the common query surface of *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// OpenDriver opens the configured engine and verifies connectivity.
func OpenDriver(cfg config.Database) (Driver, error) {
	switch cfg.Kind {
	case config.DatabaseEmbedded:
		return openSQLite(cfg)
	case config.DatabaseServer:
		return openPostgres(cfg)
	default:
		return nil, errdefs.Validation.New("unknown database kind %q", cfg.Kind)
	}
}

// sqlDriver carries the behaviour shared by both engines over database/sql.
type sqlDriver struct {
	db     *sql.DB
	kind   config.DatabaseKind
	rebind func(string) string
	ph     func(int) string
}

func (d *sqlDriver) Kind() config.DatabaseKind { return d.kind }

func (d *sqlDriver) Placeholder(i int) string { return d.ph(i) }

func (d *sqlDriver) Rebind(query string) string { return d.rebind(query) }

func (d *sqlDriver) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		return wrapSQLError(err)
	}
	return nil
}

func (d *sqlDriver) FetchOne(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	err := d.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(dest...)
	if err != nil {
		return wrapSQLError(err)
	}
	return nil
}

func (d *sqlDriver) FetchAll(ctx context.Context, query string, args []interface{}, scan func(Scanner) error) error {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return wrapSQLError(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return wrapSQLError(rows.Err())
}

func (d *sqlDriver) FetchScalar(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	var v interface{}
	err := d.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&v)
	if err != nil {
		return nil, wrapSQLError(err)
	}
	return v, nil
}

func (d *sqlDriver) Tx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.Storage.Wrap(err)
	}
	if err := fn(rebindQuerier{tx: tx, rebind: d.rebind}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errdefs.Storage.Wrap(err)
	}
	return nil
}

func (d *sqlDriver) HealthPing(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errdefs.Storage.Wrap(err)
	}
	return nil
}

func (d *sqlDriver) Stats() PoolStats {
	s := d.db.Stats()
	return PoolStats{
		MaxOpen: s.MaxOpenConnections,
		Open:    s.OpenConnections,
		Idle:    s.Idle,
		InUse:   s.InUse,
	}
}

func (d *sqlDriver) Close() error { return d.db.Close() }

// rebindQuerier applies placeholder translation inside a transaction so
// callers write the same `?` SQL everywhere.
type rebindQuerier struct {
	tx     *sql.Tx
	rebind func(string) string
}

func (q rebindQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.tx.ExecContext(ctx, q.rebind(query), args...)
}

func (q rebindQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.tx.QueryContext(ctx, q.rebind(query), args...)
}

func (q rebindQuerier) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.tx.QueryRowContext(ctx, q.rebind(query), args...)
}

func identityRebind(query string) string { return query }

// numberedRebind rewrites `?` to $1..$n, skipping quoted literals.
func numberedRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func wrapSQLError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errdefs.NotFound.Wrap(err)
	}
	return errdefs.Storage.Wrap(err)
}

// IsNoRows reports whether err is the no-rows sentinel in either its raw or
// wrapped form.
func IsNoRows(err error) bool {
	return err == sql.ErrNoRows || errdefs.NotFound.Has(err)
}
