package state

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

// Manager owns snapshot capture, retrieval and target designation. Snapshots
// are immutable once saved; history per endpoint is bounded by the retention
// setting, except that a pool's target snapshot is never pruned.
type Manager struct {
	store  *storage.Store
	retain int
	logger zerolog.Logger
}

// NewManager returns a state manager retaining at most retain snapshots per
// endpoint.
func NewManager(store *storage.Store, retain int) *Manager {
	return &Manager{
		store:  store,
		retain: retain,
		logger: log.WithComponent("state"),
	}
}

// SaveSnapshot validates and persists a snapshot reported by an endpoint,
// then prunes the endpoint's history beyond the retention bound. The
// endpoint must exist and be assigned to a pool; snapshots from unassigned
// endpoints are rejected because they could never become a sync target.
func (m *Manager) SaveSnapshot(ctx context.Context, endpointID string, snap *types.Snapshot) (*types.Snapshot, error) {
	if snap == nil {
		return nil, errdefs.Validation.New("snapshot payload is required")
	}
	if snap.Packages == nil {
		snap.Packages = []types.PackageRecord{}
	}
	for _, pkg := range snap.Packages {
		if strings.TrimSpace(pkg.Name) == "" {
			return nil, errdefs.Validation.New("snapshot contains a package without a name")
		}
		if strings.TrimSpace(pkg.Version) == "" {
			return nil, errdefs.Validation.New("package %s has no version", pkg.Name)
		}
	}

	endpoint, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if endpoint.PoolID == "" {
		return nil, errdefs.Validation.New("endpoint %s is not assigned to a pool", endpointID)
	}

	snap.ID = types.NewID()
	snap.EndpointID = endpoint.ID
	snap.PoolID = endpoint.PoolID
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if err := m.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.SnapshotsSaved.Inc()

	pruned, err := m.store.PruneEndpointSnapshots(ctx, endpoint.ID, m.retain)
	if err != nil {
		// The snapshot is saved; a failed prune only delays cleanup.
		m.logger.Warn().Err(err).Str("endpoint_id", endpoint.ID).Msg("snapshot prune failed")
	} else if pruned > 0 {
		m.logger.Debug().Int("pruned", pruned).Str("endpoint_id", endpoint.ID).Msg("snapshot history pruned")
	}

	m.logger.Info().
		Str("snapshot_id", snap.ID).
		Str("endpoint_id", endpoint.ID).
		Str("pool_id", endpoint.PoolID).
		Int("packages", len(snap.Packages)).
		Msg("snapshot saved")
	return snap, nil
}

// GetSnapshot returns one snapshot by id.
func (m *Manager) GetSnapshot(ctx context.Context, id string) (*types.Snapshot, error) {
	return m.store.GetSnapshot(ctx, id)
}

// GetEndpointSnapshots returns an endpoint's history, most recent first.
func (m *Manager) GetEndpointSnapshots(ctx context.Context, endpointID string, limit int) ([]*types.Snapshot, error) {
	if _, err := m.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, err
	}
	return m.store.ListEndpointSnapshots(ctx, endpointID, limit)
}

// GetTargetSnapshot returns the pool's designated target, or nil when the
// pool has none.
func (m *Manager) GetTargetSnapshot(ctx context.Context, poolID string) (*types.Snapshot, error) {
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.TargetSnapshotID == "" {
		return nil, nil
	}
	return m.store.GetSnapshot(ctx, pool.TargetSnapshotID)
}

// SetTarget designates a snapshot as the pool's target. The snapshot must
// belong to the pool it is being set on.
func (m *Manager) SetTarget(ctx context.Context, poolID, snapshotID string) error {
	snap, err := m.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	if snap.PoolID != poolID {
		return errdefs.Validation.New("snapshot %s belongs to pool %s, not %s",
			snapshotID, snap.PoolID, poolID)
	}
	if err := m.store.SetPoolTarget(ctx, poolID, snapshotID); err != nil {
		return err
	}
	m.logger.Info().Str("pool_id", poolID).Str("snapshot_id", snapshotID).Msg("pool target set")
	return nil
}

// ClearTarget removes the pool's target designation.
func (m *Manager) ClearTarget(ctx context.Context, poolID string) error {
	return m.store.SetPoolTarget(ctx, poolID, "")
}

// GetPreviousSnapshot returns the endpoint's second-most-recent snapshot,
// the revert target, or nil when fewer than two snapshots exist.
func (m *Manager) GetPreviousSnapshot(ctx context.Context, endpointID string) (*types.Snapshot, error) {
	return m.store.GetPreviousSnapshot(ctx, endpointID)
}
