package storage

import (
	"context"
	"time"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
)

// Migration is one ordered schema change. Statements are spelled per engine
// because the engines disagree on JSON column types, timestamp storage and
// ALTER TABLE support. Rollbacks for add-column migrations are no-ops on the
// embedded engine (SQLite cannot drop columns in older releases); the
// migration runner therefore only moves forward.
type Migration struct {
	Version  string
	Embedded []string
	Server   []string
}

// Migrations is the ordered list of schema versions. Never reorder or edit
// an applied entry; append a new version instead.
var Migrations = []Migration{
	{
		Version: "0001_initial",
		Embedded: []string{
			`CREATE TABLE IF NOT EXISTS pools (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				target_snapshot_id TEXT,
				sync_policy TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS endpoints (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				hostname TEXT NOT NULL,
				pool_id TEXT REFERENCES pools(id),
				last_seen TIMESTAMP,
				sync_status TEXT NOT NULL,
				auth_token_hash TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (name, hostname)
			)`,
			`CREATE TABLE IF NOT EXISTS snapshots (
				id TEXT PRIMARY KEY,
				pool_id TEXT NOT NULL REFERENCES pools(id),
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				captured_at TIMESTAMP NOT NULL,
				pacman_version TEXT NOT NULL DEFAULT '',
				architecture TEXT NOT NULL DEFAULT '',
				packages TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS repositories (
				id TEXT PRIMARY KEY,
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				repo_name TEXT NOT NULL,
				primary_url TEXT NOT NULL DEFAULT '',
				mirrors TEXT NOT NULL DEFAULT '[]',
				packages TEXT NOT NULL,
				last_updated TIMESTAMP NOT NULL,
				UNIQUE (endpoint_id, repo_name)
			)`,
			`CREATE TABLE IF NOT EXISTS operations (
				id TEXT PRIMARY KEY,
				pool_id TEXT NOT NULL REFERENCES pools(id),
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				details TEXT NOT NULL DEFAULT '{}',
				error_message TEXT,
				created_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP
			)`,
		},
		Server: []string{
			`CREATE TABLE IF NOT EXISTS pools (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				target_snapshot_id TEXT,
				sync_policy JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS endpoints (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				hostname TEXT NOT NULL,
				pool_id TEXT REFERENCES pools(id),
				last_seen TIMESTAMPTZ,
				sync_status TEXT NOT NULL,
				auth_token_hash TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (name, hostname)
			)`,
			`CREATE TABLE IF NOT EXISTS snapshots (
				id TEXT PRIMARY KEY,
				pool_id TEXT NOT NULL REFERENCES pools(id),
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				captured_at TIMESTAMPTZ NOT NULL,
				pacman_version TEXT NOT NULL DEFAULT '',
				architecture TEXT NOT NULL DEFAULT '',
				packages JSONB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS repositories (
				id TEXT PRIMARY KEY,
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				repo_name TEXT NOT NULL,
				primary_url TEXT NOT NULL DEFAULT '',
				mirrors JSONB NOT NULL DEFAULT '[]',
				packages JSONB NOT NULL,
				last_updated TIMESTAMPTZ NOT NULL,
				UNIQUE (endpoint_id, repo_name)
			)`,
			`CREATE TABLE IF NOT EXISTS operations (
				id TEXT PRIMARY KEY,
				pool_id TEXT NOT NULL REFERENCES pools(id),
				endpoint_id TEXT NOT NULL REFERENCES endpoints(id),
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				details JSONB NOT NULL DEFAULT '{}',
				error_message TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			)`,
		},
	},
	{
		// pools.target_snapshot_id references snapshots, which reference
		// pools; the cycle is broken by adding the cross-FK after both
		// tables exist. SQLite cannot ADD CONSTRAINT, so there the
		// reference stays application-enforced.
		Version:  "0002_target_snapshot_fk",
		Embedded: []string{},
		Server: []string{
			`ALTER TABLE pools
				ADD CONSTRAINT pools_target_snapshot_fk
				FOREIGN KEY (target_snapshot_id) REFERENCES snapshots(id)
				DEFERRABLE INITIALLY DEFERRED`,
		},
	},
	{
		Version: "0003_history_indexes",
		Embedded: []string{
			`CREATE INDEX IF NOT EXISTS idx_snapshots_endpoint ON snapshots (endpoint_id, captured_at)`,
			`CREATE INDEX IF NOT EXISTS idx_operations_endpoint ON operations (endpoint_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_operations_pool ON operations (pool_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_endpoints_pool ON endpoints (pool_id)`,
		},
		Server: []string{
			`CREATE INDEX IF NOT EXISTS idx_snapshots_endpoint ON snapshots (endpoint_id, captured_at)`,
			`CREATE INDEX IF NOT EXISTS idx_operations_endpoint ON operations (endpoint_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_operations_pool ON operations (pool_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_endpoints_pool ON endpoints (pool_id)`,
		},
	},
}

func (m Migration) statements(kind config.DatabaseKind) []string {
	if kind == config.DatabaseServer {
		return m.Server
	}
	return m.Embedded
}

// Migrate applies all pending migrations in order. Each migration runs in
// its own transaction and is recorded in schema_migrations only after every
// statement succeeds; a failing migration aborts the batch.
func Migrate(ctx context.Context, d Driver) error {
	return MigrateTo(ctx, d, "")
}

// MigrateTo applies pending migrations up to and including target; an empty
// target means all of them.
func MigrateTo(ctx context.Context, d Driver, target string) error {
	logger := log.WithComponent("migrations")

	if err := ensureMigrationsTable(ctx, d); err != nil {
		return err
	}

	applied, err := AppliedVersions(ctx, d)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		err := d.Tx(ctx, func(tx Querier) error {
			for _, stmt := range m.statements(d.Kind()) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return errdefs.Storage.New("migration %s: %v", m.Version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				m.Version, time.Now().UTC())
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info().Str("version", m.Version).Msg("migration applied")

		if target != "" && m.Version == target {
			break
		}
	}
	return nil
}

// AppliedVersions returns the set of migration versions already recorded.
func AppliedVersions(ctx context.Context, d Driver) (map[string]bool, error) {
	if err := ensureMigrationsTable(ctx, d); err != nil {
		return nil, err
	}
	applied := make(map[string]bool)
	err := d.FetchAll(ctx, `SELECT version FROM schema_migrations`, nil, func(s Scanner) error {
		var v string
		if err := s.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func ensureMigrationsTable(ctx context.Context, d Driver) error {
	ts := "TIMESTAMP"
	if d.Kind() == config.DatabaseServer {
		ts = "TIMESTAMPTZ"
	}
	return d.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at `+ts+` NOT NULL
		)`)
}
