package state

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fixture struct {
	store    *storage.Store
	manager  *Manager
	pool     *types.Pool
	endpoint *types.Endpoint
}

func newFixture(t *testing.T, retain int) *fixture {
	t.Helper()
	ctx := context.Background()

	d, err := storage.OpenDriver(config.Database{Kind: config.DatabaseEmbedded, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, storage.Migrate(ctx, d))

	store := storage.NewStore(d)

	pool := &types.Pool{ID: types.NewID(), Name: "alpha", SyncPolicy: types.DefaultSyncPolicy()}
	require.NoError(t, store.CreatePool(ctx, pool))

	endpoint := &types.Endpoint{
		ID: types.NewID(), Name: "ep", Hostname: "host",
		PoolID: pool.ID, SyncStatus: types.SyncStatusBehind, AuthTokenHash: "hash",
	}
	require.NoError(t, store.CreateEndpoint(ctx, endpoint))

	return &fixture{
		store:    store,
		manager:  NewManager(store, retain),
		pool:     pool,
		endpoint: endpoint,
	}
}

func pkgs(names ...string) []types.PackageRecord {
	out := make([]types.PackageRecord, 0, len(names))
	for _, n := range names {
		out = append(out, types.PackageRecord{Name: n, Version: "1.0.0-1", Repository: "core"})
	}
	return out
}

func TestSaveSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	saved, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
		PacmanVersion: "6.1.0",
		Architecture:  "x86_64",
		Packages:      pkgs("linux", "pacman"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, f.pool.ID, saved.PoolID)
	assert.Equal(t, f.endpoint.ID, saved.EndpointID)
	assert.False(t, saved.CapturedAt.IsZero())

	got, err := f.manager.GetSnapshot(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Len(t, got.Packages, 2)
}

func TestSaveSnapshotRequiresPoolAssignment(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	loner := &types.Endpoint{
		ID: types.NewID(), Name: "loner", Hostname: "host2",
		SyncStatus: types.SyncStatusOffline, AuthTokenHash: "hash",
	}
	require.NoError(t, f.store.CreateEndpoint(ctx, loner))

	_, err := f.manager.SaveSnapshot(ctx, loner.ID, &types.Snapshot{Packages: pkgs("linux")})
	require.Error(t, err)
	assert.True(t, errdefs.Validation.Has(err))
}

func TestSaveSnapshotValidatesPackages(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
		Packages: []types.PackageRecord{{Name: "", Version: "1.0"}},
	})
	require.Error(t, err)
	assert.True(t, errdefs.Validation.Has(err))

	_, err = f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
		Packages: []types.PackageRecord{{Name: "vim", Version: " "}},
	})
	require.Error(t, err)
	assert.True(t, errdefs.Validation.Has(err))

	// An empty package set is a legal (if unusual) state.
	_, err = f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{})
	require.NoError(t, err)
}

func TestSaveSnapshotEnforcesRetention(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		saved, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
			Packages:   pkgs("linux"),
		})
		require.NoError(t, err)
		ids = append(ids, saved.ID)
	}

	snaps, err := f.manager.GetEndpointSnapshots(ctx, f.endpoint.ID, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, ids[4], snaps[0].ID)
	assert.Equal(t, ids[2], snaps[2].ID)
}

func TestSetTargetRejectsForeignSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	other := &types.Pool{ID: types.NewID(), Name: "beta", SyncPolicy: types.DefaultSyncPolicy()}
	require.NoError(t, f.store.CreatePool(ctx, other))

	saved, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{Packages: pkgs("linux")})
	require.NoError(t, err)

	err = f.manager.SetTarget(ctx, other.ID, saved.ID)
	require.Error(t, err)
	assert.True(t, errdefs.Validation.Has(err))

	require.NoError(t, f.manager.SetTarget(ctx, f.pool.ID, saved.ID))

	target, err := f.manager.GetTargetSnapshot(ctx, f.pool.ID)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, saved.ID, target.ID)
}

func TestGetTargetSnapshotNilWhenUnset(t *testing.T) {
	f := newFixture(t, 10)

	target, err := f.manager.GetTargetSnapshot(context.Background(), f.pool.ID)
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestClearTarget(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	saved, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{Packages: pkgs("linux")})
	require.NoError(t, err)
	require.NoError(t, f.manager.SetTarget(ctx, f.pool.ID, saved.ID))

	require.NoError(t, f.manager.ClearTarget(ctx, f.pool.ID))

	target, err := f.manager.GetTargetSnapshot(ctx, f.pool.ID)
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestGetPreviousSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	prev, err := f.manager.GetPreviousSnapshot(ctx, f.endpoint.ID)
	require.NoError(t, err)
	assert.Nil(t, prev)

	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	first, err := f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
		CapturedAt: base,
		Packages:   pkgs("linux"),
	})
	require.NoError(t, err)
	_, err = f.manager.SaveSnapshot(ctx, f.endpoint.ID, &types.Snapshot{
		CapturedAt: base.Add(time.Minute),
		Packages:   pkgs("linux", "vim"),
	})
	require.NoError(t, err)

	prev, err = f.manager.GetPreviousSnapshot(ctx, f.endpoint.ID)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, first.ID, prev.ID)
}
