package pool

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	return newManagerWith(t, nil)
}

func newManagerWith(t *testing.T, analyses AnalysisInvalidator) (*Manager, *storage.Store) {
	t.Helper()
	ctx := context.Background()

	d, err := storage.OpenDriver(config.Database{Kind: config.DatabaseEmbedded, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, storage.Migrate(ctx, d))

	store := storage.NewStore(d)
	return NewManager(store, state.NewManager(store, 10), analyses), store
}

// analysisRecorder records which pools had their cached analysis dropped.
type analysisRecorder struct {
	invalidated []string
}

func (r *analysisRecorder) Invalidate(poolID string) {
	r.invalidated = append(r.invalidated, poolID)
}

func addEndpoint(t *testing.T, store *storage.Store, name string, status types.SyncStatus) *types.Endpoint {
	t.Helper()
	e := &types.Endpoint{
		ID: types.NewID(), Name: name, Hostname: name + ".local",
		SyncStatus: status, AuthTokenHash: "hash",
	}
	require.NoError(t, store.CreateEndpoint(context.Background(), e))
	return e
}

func TestCreateValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "", "", nil)
	assert.True(t, errdefs.Validation.Has(err))

	_, err = m.Create(ctx, "   ", "", nil)
	assert.True(t, errdefs.Validation.Has(err))

	_, err = m.Create(ctx, "web", "", &types.SyncPolicy{ConflictResolution: "bogus"})
	assert.True(t, errdefs.Validation.Has(err))

	_, err = m.Create(ctx, strings.Repeat("n", 256), "", nil)
	assert.True(t, errdefs.Validation.Has(err))

	_, err = m.Create(ctx, "web", strings.Repeat("d", 1001), nil)
	assert.True(t, errdefs.Validation.Has(err))

	p, err := m.Create(ctx, "web", "frontends", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionManual, p.SyncPolicy.ConflictResolution)
	assert.False(t, p.SyncPolicy.AutoSync)

	_, err = m.Create(ctx, "web", "", nil)
	assert.True(t, errdefs.Validation.Has(err))
}

func TestUpdatePartial(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, "web", "frontends", nil)
	require.NoError(t, err)

	desc := "renamed fleet"
	got, err := m.Update(ctx, p.ID, Update{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)
	assert.Equal(t, desc, got.Description)

	policy := types.SyncPolicy{
		AutoSync:           true,
		ExcludePackages:    []string{"linux"},
		ConflictResolution: types.ResolutionNewest,
	}
	got, err = m.Update(ctx, p.ID, Update{SyncPolicy: &policy})
	require.NoError(t, err)
	assert.True(t, got.SyncPolicy.AutoSync)
	assert.Equal(t, types.ResolutionNewest, got.SyncPolicy.ConflictResolution)

	empty := "  "
	_, err = m.Update(ctx, p.ID, Update{Name: &empty})
	assert.True(t, errdefs.Validation.Has(err))

	long := strings.Repeat("n", 256)
	_, err = m.Update(ctx, p.ID, Update{Name: &long})
	assert.True(t, errdefs.Validation.Has(err))

	longDesc := strings.Repeat("d", 1001)
	_, err = m.Update(ctx, p.ID, Update{Description: &longDesc})
	assert.True(t, errdefs.Validation.Has(err))
}

func TestDeleteDetachesEndpoints(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, "web", "", nil)
	require.NoError(t, err)
	e := addEndpoint(t, store, "ep1", types.SyncStatusOffline)
	require.NoError(t, m.AssignEndpoint(ctx, p.ID, e.ID))

	require.NoError(t, m.Delete(ctx, p.ID))

	_, err = m.Get(ctx, p.ID)
	assert.True(t, errdefs.NotFound.Has(err))

	// The endpoint survives, detached and offline.
	got, err := store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PoolID)
	assert.Equal(t, types.SyncStatusOffline, got.SyncStatus)
}

func TestAssignAndRemoveEndpoint(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, "web", "", nil)
	require.NoError(t, err)
	other, err := m.Create(ctx, "db", "", nil)
	require.NoError(t, err)
	e := addEndpoint(t, store, "ep1", types.SyncStatusOffline)

	require.NoError(t, m.AssignEndpoint(ctx, p.ID, e.ID))

	got, err := store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PoolID)
	assert.Equal(t, types.SyncStatusBehind, got.SyncStatus)

	// Re-assigning to the same pool is a no-op.
	require.NoError(t, m.AssignEndpoint(ctx, p.ID, e.ID))

	// Assigning to another pool detaches from the current one first and
	// lands the endpoint behind the destination.
	require.NoError(t, m.AssignEndpoint(ctx, other.ID, e.ID))
	got, err = store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.PoolID)
	assert.Equal(t, types.SyncStatusBehind, got.SyncStatus)

	// Removing via the wrong pool is rejected.
	err = m.RemoveEndpoint(ctx, p.ID, e.ID)
	assert.True(t, errdefs.Validation.Has(err))

	require.NoError(t, m.RemoveEndpoint(ctx, other.ID, e.ID))
	got, err = store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PoolID)
	assert.Equal(t, types.SyncStatusOffline, got.SyncStatus)
}

func TestMembershipAndPolicyChangesInvalidateAnalysis(t *testing.T) {
	rec := &analysisRecorder{}
	m, store := newManagerWith(t, rec)
	ctx := context.Background()

	p1, err := m.Create(ctx, "web", "", nil)
	require.NoError(t, err)
	p2, err := m.Create(ctx, "db", "", nil)
	require.NoError(t, err)
	e := addEndpoint(t, store, "ep1", types.SyncStatusOffline)

	require.NoError(t, m.AssignEndpoint(ctx, p1.ID, e.ID))
	assert.Equal(t, []string{p1.ID}, rec.invalidated)

	policy := types.SyncPolicy{
		ExcludePackages:    []string{"gcc"},
		ConflictResolution: types.ResolutionNewest,
	}
	_, err = m.Update(ctx, p1.ID, Update{SyncPolicy: &policy})
	require.NoError(t, err)
	assert.Equal(t, []string{p1.ID, p1.ID}, rec.invalidated)

	// A name-only update leaves the cache alone.
	name := "frontends"
	_, err = m.Update(ctx, p1.ID, Update{Name: &name})
	require.NoError(t, err)
	assert.Len(t, rec.invalidated, 2)

	// Reassignment touches both pools.
	require.NoError(t, m.AssignEndpoint(ctx, p2.ID, e.ID))
	assert.Equal(t, []string{p1.ID, p1.ID, p1.ID, p2.ID}, rec.invalidated)

	require.NoError(t, m.MoveEndpoint(ctx, e.ID, p2.ID, p1.ID))
	assert.Equal(t, []string{p1.ID, p1.ID, p1.ID, p2.ID, p2.ID, p1.ID}, rec.invalidated)

	rec.invalidated = nil
	require.NoError(t, m.RemoveEndpoint(ctx, p1.ID, e.ID))
	assert.Equal(t, []string{p1.ID}, rec.invalidated)

	rec.invalidated = nil
	require.NoError(t, m.Delete(ctx, p2.ID))
	assert.Equal(t, []string{p2.ID}, rec.invalidated)
}

func TestMoveEndpoint(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	p1, err := m.Create(ctx, "web", "", nil)
	require.NoError(t, err)
	p2, err := m.Create(ctx, "db", "", nil)
	require.NoError(t, err)
	e := addEndpoint(t, store, "ep1", types.SyncStatusOffline)
	require.NoError(t, m.AssignEndpoint(ctx, p1.ID, e.ID))
	require.NoError(t, store.UpdateEndpointSyncStatus(ctx, e.ID, types.SyncStatusInSync))

	// Wrong source pool is rejected.
	err = m.MoveEndpoint(ctx, e.ID, p2.ID, p1.ID)
	assert.True(t, errdefs.Validation.Has(err))

	require.NoError(t, m.MoveEndpoint(ctx, e.ID, p1.ID, p2.ID))

	got, err := store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, got.PoolID)
	assert.Equal(t, types.SyncStatusBehind, got.SyncStatus)

	err = m.MoveEndpoint(ctx, e.ID, p2.ID, "missing")
	assert.True(t, errdefs.NotFound.Has(err))
}

func TestSetTargetMarksReachableBehind(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	p, err := m.Create(ctx, "web", "", nil)
	require.NoError(t, err)

	inSync := addEndpoint(t, store, "ep1", types.SyncStatusOffline)
	offline := addEndpoint(t, store, "ep2", types.SyncStatusOffline)
	require.NoError(t, m.AssignEndpoint(ctx, p.ID, inSync.ID))
	require.NoError(t, m.AssignEndpoint(ctx, p.ID, offline.ID))
	require.NoError(t, store.UpdateEndpointSyncStatus(ctx, inSync.ID, types.SyncStatusInSync))
	require.NoError(t, store.UpdateEndpointSyncStatus(ctx, offline.ID, types.SyncStatusOffline))

	snap := &types.Snapshot{
		ID: types.NewID(), PoolID: p.ID, EndpointID: inSync.ID,
		Packages: []types.PackageRecord{},
	}
	require.NoError(t, store.CreateSnapshot(ctx, snap))

	require.NoError(t, m.SetTarget(ctx, p.ID, snap.ID))

	got, err := store.GetEndpoint(ctx, inSync.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusBehind, got.SyncStatus)

	got, err = store.GetEndpoint(ctx, offline.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusOffline, got.SyncStatus)
}

func TestStatusAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.SyncStatus
		overall  types.PoolStatusOverall
		percent  float64
	}{
		{"empty", nil, types.PoolStatusEmpty, 100},
		{"fully synced", []types.SyncStatus{types.SyncStatusInSync, types.SyncStatusInSync}, types.PoolStatusFullySynced, 100},
		{"all offline", []types.SyncStatus{types.SyncStatusOffline, types.SyncStatusOffline}, types.PoolStatusAllOffline, 0},
		{"partially synced", []types.SyncStatus{types.SyncStatusInSync, types.SyncStatusBehind, types.SyncStatusOffline, types.SyncStatusInSync}, types.PoolStatusPartiallySynced, 50},
		{"out of sync", []types.SyncStatus{types.SyncStatusBehind, types.SyncStatusAhead}, types.PoolStatusOutOfSync, 0},
		{"behind with offline", []types.SyncStatus{types.SyncStatusBehind, types.SyncStatusOffline}, types.PoolStatusOutOfSync, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store := newManager(t)
			ctx := context.Background()

			p, err := m.Create(ctx, "web", "", nil)
			require.NoError(t, err)

			for i, status := range tt.statuses {
				e := addEndpoint(t, store, "ep"+string(rune('a'+i)), types.SyncStatusOffline)
				require.NoError(t, m.AssignEndpoint(ctx, p.ID, e.ID))
				require.NoError(t, store.UpdateEndpointSyncStatus(ctx, e.ID, status))
			}

			st, err := m.Status(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, len(tt.statuses), st.TotalEndpoints)
			assert.Equal(t, tt.overall, st.OverallStatus)
			assert.InDelta(t, tt.percent, st.SyncPercentage, 0.001)
		})
	}
}
