package storage

import (
	"context"
	"database/sql"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const poolColumns = `id, name, description, target_snapshot_id, sync_policy, created_at, updated_at`

// CreatePool inserts a new pool row.
func (s *Store) CreatePool(ctx context.Context, p *types.Pool) error {
	policy, err := marshalJSON(p.SyncPolicy)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	p.UpdatedAt = p.CreatedAt

	return s.withRetry(ctx, func() error {
		err := s.driver.Exec(ctx,
			`INSERT INTO pools (`+poolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, nullString(p.TargetSnapshotID), policy,
			p.CreatedAt, p.UpdatedAt)
		if isUniqueViolation(err) {
			return errdefs.Validation.New("pool name already exists: %s", p.Name)
		}
		return err
	})
}

// GetPool returns one pool by id, endpoint list populated.
func (s *Store) GetPool(ctx context.Context, id string) (*types.Pool, error) {
	return s.getPoolWhere(ctx, `id = ?`, id)
}

// GetPoolByName returns one pool by its unique name.
func (s *Store) GetPoolByName(ctx context.Context, name string) (*types.Pool, error) {
	return s.getPoolWhere(ctx, `name = ?`, name)
}

func (s *Store) getPoolWhere(ctx context.Context, where string, arg interface{}) (*types.Pool, error) {
	var p *types.Pool
	err := s.withRetry(ctx, func() error {
		row, err := s.scanPoolRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE `+where, arg)
		if err != nil {
			return err
		}
		p = row
		return nil
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, errdefs.NotFound.New("pool not found: %v", arg)
		}
		return nil, err
	}
	if err := s.populateEndpointIDs(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) scanPoolRow(ctx context.Context, query string, args ...interface{}) (*types.Pool, error) {
	var (
		p      types.Pool
		target sql.NullString
		policy []byte
	)
	err := s.driver.FetchOne(ctx, query, args,
		&p.ID, &p.Name, &p.Description, &target, &policy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TargetSnapshotID = target.String
	if err := unmarshalJSON(policy, &p.SyncPolicy); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ListPools returns all pools in creation order, each with its endpoint-id
// list populated. The authoritative relation is endpoints.pool_id; the list
// here is a denormalised read.
func (s *Store) ListPools(ctx context.Context) ([]*types.Pool, error) {
	var pools []*types.Pool
	err := s.withRetry(ctx, func() error {
		pools = nil
		return s.driver.FetchAll(ctx,
			`SELECT `+poolColumns+` FROM pools ORDER BY created_at, id`, nil,
			func(sc Scanner) error {
				var (
					p      types.Pool
					target sql.NullString
					policy []byte
				)
				if err := sc.Scan(&p.ID, &p.Name, &p.Description, &target, &policy,
					&p.CreatedAt, &p.UpdatedAt); err != nil {
					return err
				}
				p.TargetSnapshotID = target.String
				if err := unmarshalJSON(policy, &p.SyncPolicy); err != nil {
					return err
				}
				p.CreatedAt = p.CreatedAt.UTC()
				p.UpdatedAt = p.UpdatedAt.UTC()
				pools = append(pools, &p)
				return nil
			})
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Pool, len(pools))
	for _, p := range pools {
		p.EndpointIDs = []string{}
		byID[p.ID] = p
	}
	err = s.driver.FetchAll(ctx,
		`SELECT id, pool_id FROM endpoints WHERE pool_id IS NOT NULL ORDER BY created_at, id`, nil,
		func(sc Scanner) error {
			var eid, pid string
			if err := sc.Scan(&eid, &pid); err != nil {
				return err
			}
			if p, ok := byID[pid]; ok {
				p.EndpointIDs = append(p.EndpointIDs, eid)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (s *Store) populateEndpointIDs(ctx context.Context, p *types.Pool) error {
	p.EndpointIDs = []string{}
	return s.driver.FetchAll(ctx,
		`SELECT id FROM endpoints WHERE pool_id = ? ORDER BY created_at, id`,
		[]interface{}{p.ID},
		func(sc Scanner) error {
			var eid string
			if err := sc.Scan(&eid); err != nil {
				return err
			}
			p.EndpointIDs = append(p.EndpointIDs, eid)
			return nil
		})
}

// UpdatePool persists mutable pool fields (name, description, policy,
// target) and refreshes updated_at.
func (s *Store) UpdatePool(ctx context.Context, p *types.Pool) error {
	policy, err := marshalJSON(p.SyncPolicy)
	if err != nil {
		return err
	}
	p.UpdatedAt = now()

	return s.withRetry(ctx, func() error {
		err := s.driver.Exec(ctx,
			`UPDATE pools SET name = ?, description = ?, target_snapshot_id = ?,
				sync_policy = ?, updated_at = ? WHERE id = ?`,
			p.Name, p.Description, nullString(p.TargetSnapshotID), policy, p.UpdatedAt, p.ID)
		if isUniqueViolation(err) {
			return errdefs.Validation.New("pool name already exists: %s", p.Name)
		}
		return err
	})
}

// SetPoolTarget designates snapshotID as the pool's target inside a single
// transaction, verifying the snapshot is persisted first. An empty
// snapshotID clears the target.
func (s *Store) SetPoolTarget(ctx context.Context, poolID, snapshotID string) error {
	return s.withRetry(ctx, func() error {
		return s.driver.Tx(ctx, func(tx Querier) error {
			if snapshotID != "" {
				var n int
				err := tx.QueryRowContext(ctx,
					`SELECT COUNT(1) FROM snapshots WHERE id = ?`, snapshotID).Scan(&n)
				if err != nil {
					return errdefs.Storage.Wrap(err)
				}
				if n == 0 {
					return errdefs.NotFound.New("snapshot not found: %s", snapshotID)
				}
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE pools SET target_snapshot_id = ?, updated_at = ? WHERE id = ?`,
				nullString(snapshotID), now(), poolID)
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errdefs.NotFound.New("pool not found: %s", poolID)
			}
			return nil
		})
	})
}

// DeletePool removes the pool and its dependent operation and snapshot rows
// in one transaction. Endpoints must already be detached; the endpoint FK
// rejects the delete otherwise.
func (s *Store) DeletePool(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		return s.driver.Tx(ctx, func(tx Querier) error {
			// Clear the target first so the snapshot FK cycle unwinds.
			if _, err := tx.ExecContext(ctx,
				`UPDATE pools SET target_snapshot_id = NULL WHERE id = ?`, id); err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM operations WHERE pool_id = ?`, id); err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM snapshots WHERE pool_id = ?`, id); err != nil {
				return errdefs.Storage.Wrap(err)
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM pools WHERE id = ?`, id)
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errdefs.NotFound.New("pool not found: %s", id)
			}
			return nil
		})
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
