package storage

import (
	"context"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const snapshotColumns = `id, pool_id, endpoint_id, captured_at, pacman_version, architecture, packages`

// CreateSnapshot appends an immutable snapshot row. There is deliberately
// no UpdateSnapshot: rows are never mutated after insert.
func (s *Store) CreateSnapshot(ctx context.Context, snap *types.Snapshot) error {
	packages, err := marshalJSON(snap.Packages)
	if err != nil {
		return err
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = now()
	}
	return s.withRetry(ctx, func() error {
		return s.driver.Exec(ctx,
			`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.PoolID, snap.EndpointID, snap.CapturedAt.UTC(),
			snap.PacmanVersion, snap.Architecture, packages)
	})
}

// GetSnapshot returns one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := s.withRetry(ctx, func() error {
		var (
			row      types.Snapshot
			packages []byte
		)
		err := s.driver.FetchOne(ctx,
			`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`,
			[]interface{}{id},
			&row.ID, &row.PoolID, &row.EndpointID, &row.CapturedAt,
			&row.PacmanVersion, &row.Architecture, &packages)
		if err != nil {
			return err
		}
		if err := unmarshalJSON(packages, &row.Packages); err != nil {
			return err
		}
		row.CapturedAt = row.CapturedAt.UTC()
		snap = &row
		return nil
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, errdefs.NotFound.New("snapshot not found: %s", id)
		}
		return nil, err
	}
	return snap, nil
}

// ListEndpointSnapshots returns an endpoint's snapshot history, most recent
// first. limit <= 0 means no limit.
func (s *Store) ListEndpointSnapshots(ctx context.Context, endpointID string, limit int) ([]*types.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE endpoint_id = ? ORDER BY captured_at DESC, id DESC`
	args := []interface{}{endpointID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var snaps []*types.Snapshot
	err := s.withRetry(ctx, func() error {
		snaps = nil
		return s.driver.FetchAll(ctx, query, args, func(sc Scanner) error {
			var (
				row      types.Snapshot
				packages []byte
			)
			if err := sc.Scan(&row.ID, &row.PoolID, &row.EndpointID, &row.CapturedAt,
				&row.PacmanVersion, &row.Architecture, &packages); err != nil {
				return err
			}
			if err := unmarshalJSON(packages, &row.Packages); err != nil {
				return err
			}
			row.CapturedAt = row.CapturedAt.UTC()
			snaps = append(snaps, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// GetPreviousSnapshot returns the second-most-recent snapshot for the
// endpoint — the revert target — or nil when fewer than two exist.
func (s *Store) GetPreviousSnapshot(ctx context.Context, endpointID string) (*types.Snapshot, error) {
	snaps, err := s.ListEndpointSnapshots(ctx, endpointID, 2)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, nil
	}
	return snaps[1], nil
}

// PruneEndpointSnapshots removes snapshots beyond the newest retain entries
// for the endpoint. Snapshots designated as any pool's target are never
// pruned, whatever their age.
func (s *Store) PruneEndpointSnapshots(ctx context.Context, endpointID string, retain int) (int, error) {
	if retain < 1 {
		return 0, errdefs.Validation.New("retain must be positive")
	}

	var pruned int
	err := s.withRetry(ctx, func() error {
		pruned = 0
		return s.driver.Tx(ctx, func(tx Querier) error {
			rows, err := tx.QueryContext(ctx,
				`SELECT id FROM snapshots WHERE endpoint_id = ?
					AND id NOT IN (SELECT target_snapshot_id FROM pools WHERE target_snapshot_id IS NOT NULL)
					ORDER BY captured_at DESC, id DESC`, endpointID)
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			var prunable []string
			i := 0
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return errdefs.Storage.Wrap(err)
				}
				if i >= retain {
					prunable = append(prunable, id)
				}
				i++
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return errdefs.Storage.Wrap(err)
			}

			for _, id := range prunable {
				if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
					return errdefs.Storage.Wrap(err)
				}
				pruned++
			}
			return nil
		})
	})
	return pruned, err
}
