package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const endpointColumns = `id, name, hostname, pool_id, last_seen, sync_status, auth_token_hash, created_at, updated_at`

// CreateEndpoint inserts a new endpoint row. (name, hostname) is unique
// across all endpoints.
func (s *Store) CreateEndpoint(ctx context.Context, e *types.Endpoint) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.UpdatedAt = e.CreatedAt

	return s.withRetry(ctx, func() error {
		err := s.driver.Exec(ctx,
			`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Name, e.Hostname, nullString(e.PoolID), nullTime(e.LastSeen),
			string(e.SyncStatus), e.AuthTokenHash, e.CreatedAt, e.UpdatedAt)
		if isUniqueViolation(err) {
			return errdefs.Conflict.New("endpoint already registered: %s@%s", e.Name, e.Hostname)
		}
		return err
	})
}

// GetEndpoint returns one endpoint by id.
func (s *Store) GetEndpoint(ctx context.Context, id string) (*types.Endpoint, error) {
	return s.getEndpointWhere(ctx, `id = ?`, id)
}

// GetEndpointByNameHost returns the endpoint registered under the unique
// (name, hostname) pair, or a not-found error.
func (s *Store) GetEndpointByNameHost(ctx context.Context, name, hostname string) (*types.Endpoint, error) {
	var e *types.Endpoint
	err := s.withRetry(ctx, func() error {
		row, err := s.scanEndpointRow(ctx,
			`SELECT `+endpointColumns+` FROM endpoints WHERE name = ? AND hostname = ?`,
			name, hostname)
		if err != nil {
			return err
		}
		e = row
		return nil
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, errdefs.NotFound.New("endpoint not found: %s@%s", name, hostname)
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) getEndpointWhere(ctx context.Context, where string, arg interface{}) (*types.Endpoint, error) {
	var e *types.Endpoint
	err := s.withRetry(ctx, func() error {
		row, err := s.scanEndpointRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE `+where, arg)
		if err != nil {
			return err
		}
		e = row
		return nil
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, errdefs.NotFound.New("endpoint not found: %v", arg)
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) scanEndpointRow(ctx context.Context, query string, args ...interface{}) (*types.Endpoint, error) {
	var (
		e        types.Endpoint
		poolID   sql.NullString
		lastSeen sql.NullTime
		status   string
	)
	err := s.driver.FetchOne(ctx, query, args,
		&e.ID, &e.Name, &e.Hostname, &poolID, &lastSeen, &status,
		&e.AuthTokenHash, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	finishEndpoint(&e, poolID, lastSeen, status)
	return &e, nil
}

func finishEndpoint(e *types.Endpoint, poolID sql.NullString, lastSeen sql.NullTime, status string) {
	e.PoolID = poolID.String
	e.SyncStatus = types.SyncStatus(status)
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		e.LastSeen = &t
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}

// ListEndpoints returns every endpoint in creation order.
func (s *Store) ListEndpoints(ctx context.Context) ([]*types.Endpoint, error) {
	return s.listEndpointsWhere(ctx, ``, nil)
}

// ListEndpointsByPool returns the endpoints assigned to one pool.
func (s *Store) ListEndpointsByPool(ctx context.Context, poolID string) ([]*types.Endpoint, error) {
	return s.listEndpointsWhere(ctx, `WHERE pool_id = ?`, []interface{}{poolID})
}

func (s *Store) listEndpointsWhere(ctx context.Context, where string, args []interface{}) ([]*types.Endpoint, error) {
	var endpoints []*types.Endpoint
	err := s.withRetry(ctx, func() error {
		endpoints = nil
		return s.driver.FetchAll(ctx,
			`SELECT `+endpointColumns+` FROM endpoints `+where+` ORDER BY created_at, id`, args,
			func(sc Scanner) error {
				var (
					e        types.Endpoint
					poolID   sql.NullString
					lastSeen sql.NullTime
					status   string
				)
				if err := sc.Scan(&e.ID, &e.Name, &e.Hostname, &poolID, &lastSeen, &status,
					&e.AuthTokenHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
					return err
				}
				finishEndpoint(&e, poolID, lastSeen, status)
				endpoints = append(endpoints, &e)
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

// UpdateEndpoint persists all mutable endpoint fields.
func (s *Store) UpdateEndpoint(ctx context.Context, e *types.Endpoint) error {
	e.UpdatedAt = now()
	return s.withRetry(ctx, func() error {
		err := s.driver.Exec(ctx,
			`UPDATE endpoints SET name = ?, hostname = ?, pool_id = ?, last_seen = ?,
				sync_status = ?, auth_token_hash = ?, updated_at = ? WHERE id = ?`,
			e.Name, e.Hostname, nullString(e.PoolID), nullTime(e.LastSeen),
			string(e.SyncStatus), e.AuthTokenHash, e.UpdatedAt, e.ID)
		if isUniqueViolation(err) {
			return errdefs.Conflict.New("endpoint already registered: %s@%s", e.Name, e.Hostname)
		}
		return err
	})
}

// UpdateEndpointSyncStatus updates only the sync status.
func (s *Store) UpdateEndpointSyncStatus(ctx context.Context, id string, status types.SyncStatus) error {
	return s.withRetry(ctx, func() error {
		return s.driver.Exec(ctx,
			`UPDATE endpoints SET sync_status = ?, updated_at = ? WHERE id = ?`,
			string(status), now(), id)
	})
}

// TouchEndpointLastSeen records a liveness signal.
func (s *Store) TouchEndpointLastSeen(ctx context.Context, id string, t time.Time) error {
	return s.withRetry(ctx, func() error {
		return s.driver.Exec(ctx,
			`UPDATE endpoints SET last_seen = ?, updated_at = ? WHERE id = ?`,
			t.UTC(), now(), id)
	})
}

// DeleteEndpoint removes the endpoint after cascading removal of its
// operations, repositories and snapshots. When one of its snapshots is
// still a pool target the delete is refused unless force is set, in which
// case the target reference is cleared first.
func (s *Store) DeleteEndpoint(ctx context.Context, id string, force bool) error {
	return s.withRetry(ctx, func() error {
		return s.driver.Tx(ctx, func(tx Querier) error {
			var targets int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM pools WHERE target_snapshot_id IN
					(SELECT id FROM snapshots WHERE endpoint_id = ?)`, id).Scan(&targets)
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if targets > 0 {
				if !force {
					return errdefs.Validation.New(
						"endpoint has a snapshot designated as a pool target; use force to delete")
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE pools SET target_snapshot_id = NULL WHERE target_snapshot_id IN
						(SELECT id FROM snapshots WHERE endpoint_id = ?)`, id); err != nil {
					return errdefs.Storage.Wrap(err)
				}
			}
			for _, stmt := range []string{
				`DELETE FROM operations WHERE endpoint_id = ?`,
				`DELETE FROM repositories WHERE endpoint_id = ?`,
				`DELETE FROM snapshots WHERE endpoint_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
					return errdefs.Storage.Wrap(err)
				}
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errdefs.NotFound.New("endpoint not found: %s", id)
			}
			return nil
		})
	})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
