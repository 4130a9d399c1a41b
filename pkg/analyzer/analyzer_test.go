package analyzer

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacfleet/pacfleet/pkg/config"
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
	analyzer *Analyzer
	pool     *types.Pool
}

func newFixture(t *testing.T, policy types.SyncPolicy) *fixture {
	t.Helper()
	ctx := context.Background()

	d, err := storage.OpenDriver(config.Database{Kind: config.DatabaseEmbedded, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, storage.Migrate(ctx, d))

	store := storage.NewStore(d)
	pool := &types.Pool{ID: types.NewID(), Name: "prod", SyncPolicy: policy}
	require.NoError(t, store.CreatePool(ctx, pool))

	return &fixture{store: store, analyzer: New(store), pool: pool}
}

func (f *fixture) addEndpoint(t *testing.T, name string, packages map[string]string) *types.Endpoint {
	t.Helper()
	ctx := context.Background()

	e := &types.Endpoint{
		ID: types.NewID(), Name: name, Hostname: name + ".local",
		PoolID: f.pool.ID, SyncStatus: types.SyncStatusBehind, AuthTokenHash: "hash",
	}
	require.NoError(t, f.store.CreateEndpoint(ctx, e))

	var pkgs []types.RepositoryPackage
	for pkgName, version := range packages {
		pkgs = append(pkgs, types.RepositoryPackage{
			Name: pkgName, Version: version, Repository: "core", Architecture: "x86_64",
		})
	}
	require.NoError(t, f.store.ReplaceEndpointRepositories(ctx, e.ID, []*types.Repository{
		{RepoName: "core", PrimaryURL: "https://mirror.example/core", Packages: pkgs},
	}))
	return e
}

func conflictByName(conflicts []types.VersionConflict, name string) *types.VersionConflict {
	for i := range conflicts {
		if conflicts[i].Name == name {
			return &conflicts[i]
		}
	}
	return nil
}

func excludedByName(excluded []types.ExcludedPackage, name string) *types.ExcludedPackage {
	for i := range excluded {
		if excluded[i].Name == name {
			return &excluded[i]
		}
	}
	return nil
}

func TestAnalyzePartitions(t *testing.T) {
	policy := types.DefaultSyncPolicy()
	policy.ExcludePackages = []string{"d"}
	f := newFixture(t, policy)

	e1 := f.addEndpoint(t, "e1", map[string]string{"a": "1.0", "b": "1.0", "d": "9.9"})
	e2 := f.addEndpoint(t, "e2", map[string]string{"a": "1.1", "b": "1.0", "c": "3.0"})

	analysis, err := f.analyzer.Analyze(context.Background(), f.pool.ID)
	require.NoError(t, err)

	require.Len(t, analysis.CommonPackages, 1)
	assert.Equal(t, "b", analysis.CommonPackages[0].Name)
	assert.Equal(t, "1.0", analysis.CommonPackages[0].Version)

	a := excludedByName(analysis.ExcludedPackages, "a")
	require.NotNil(t, a)
	assert.Equal(t, types.ExcludedByConflict, a.Reason)

	c := excludedByName(analysis.ExcludedPackages, "c")
	require.NotNil(t, c)
	assert.Equal(t, types.ExclusionReason("missing_from_1_endpoints"), c.Reason)

	d := excludedByName(analysis.ExcludedPackages, "d")
	require.NotNil(t, d)
	assert.Equal(t, types.ExcludedByPolicy, d.Reason)

	conflict := conflictByName(analysis.Conflicts, "a")
	require.NotNil(t, conflict)
	assert.Equal(t, map[string]string{e1.ID: "1.0", e2.ID: "1.1"}, conflict.Versions)
	// Two single votes tie; the lexicographically greater version wins.
	assert.Equal(t, "1.1", conflict.SuggestedResolution)
}

func TestSuggestedResolutionPrefersMostCommon(t *testing.T) {
	f := newFixture(t, types.DefaultSyncPolicy())

	f.addEndpoint(t, "e1", map[string]string{"a": "2.0"})
	f.addEndpoint(t, "e2", map[string]string{"a": "2.0"})
	f.addEndpoint(t, "e3", map[string]string{"a": "9.0"})

	analysis, err := f.analyzer.Analyze(context.Background(), f.pool.ID)
	require.NoError(t, err)

	conflict := conflictByName(analysis.Conflicts, "a")
	require.NotNil(t, conflict)
	assert.Equal(t, "2.0", conflict.SuggestedResolution)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	policy := types.DefaultSyncPolicy()
	policy.ExcludePackages = []string{"x"}
	f := newFixture(t, policy)

	f.addEndpoint(t, "e1", map[string]string{"a": "1.0", "b": "2.0", "c": "1.0", "x": "1.0"})
	f.addEndpoint(t, "e2", map[string]string{"a": "1.1", "b": "2.0", "x": "1.0"})

	ctx := context.Background()
	first, err := f.analyzer.Analyze(ctx, f.pool.ID)
	require.NoError(t, err)
	second, err := f.analyzer.Analyze(ctx, f.pool.ID)
	require.NoError(t, err)

	assert.Equal(t, first.CommonPackages, second.CommonPackages)
	assert.Equal(t, first.ExcludedPackages, second.ExcludedPackages)
	assert.Equal(t, first.Conflicts, second.Conflicts)
}

func TestDuplicateListingTakesGreatestVersion(t *testing.T) {
	f := newFixture(t, types.DefaultSyncPolicy())
	ctx := context.Background()

	e := &types.Endpoint{
		ID: types.NewID(), Name: "e1", Hostname: "e1.local",
		PoolID: f.pool.ID, SyncStatus: types.SyncStatusBehind, AuthTokenHash: "hash",
	}
	require.NoError(t, f.store.CreateEndpoint(ctx, e))

	// Same package in two repos; numeric compare must pick 1.10 over 1.9.
	require.NoError(t, f.store.ReplaceEndpointRepositories(ctx, e.ID, []*types.Repository{
		{RepoName: "core", Packages: []types.RepositoryPackage{
			{Name: "a", Version: "1.9", Repository: "core"},
		}},
		{RepoName: "testing", Packages: []types.RepositoryPackage{
			{Name: "a", Version: "1.10", Repository: "testing"},
		}},
	}))

	analysis, err := f.analyzer.Analyze(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, analysis.CommonPackages, 1)
	assert.Equal(t, "1.10", analysis.CommonPackages[0].Version)
}

func TestGetUsesCacheUntilInvalidated(t *testing.T) {
	f := newFixture(t, types.DefaultSyncPolicy())
	ctx := context.Background()

	e := f.addEndpoint(t, "e1", map[string]string{"a": "1.0"})

	first, err := f.analyzer.Get(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, first.CommonPackages, 1)

	// A direct store write does not show up until invalidation.
	require.NoError(t, f.store.ReplaceEndpointRepositories(ctx, e.ID, []*types.Repository{
		{RepoName: "core", Packages: []types.RepositoryPackage{
			{Name: "a", Version: "1.0", Repository: "core"},
			{Name: "b", Version: "1.0", Repository: "core"},
		}},
	}))

	cached, err := f.analyzer.Get(ctx, f.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, first.LastAnalyzed, cached.LastAnalyzed)
	assert.Len(t, cached.CommonPackages, 1)

	f.analyzer.Invalidate(f.pool.ID)
	fresh, err := f.analyzer.Get(ctx, f.pool.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.CommonPackages, 2)
}

func TestOnRepositoriesReplacedRefreshesPool(t *testing.T) {
	f := newFixture(t, types.DefaultSyncPolicy())
	ctx := context.Background()

	e := f.addEndpoint(t, "e1", map[string]string{"a": "1.0"})
	_, err := f.analyzer.Get(ctx, f.pool.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.ReplaceEndpointRepositories(ctx, e.ID, []*types.Repository{
		{RepoName: "core", Packages: []types.RepositoryPackage{
			{Name: "a", Version: "2.0", Repository: "core"},
		}},
	}))
	f.analyzer.OnRepositoriesReplaced(ctx, e.ID)

	analysis, err := f.analyzer.Get(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, analysis.CommonPackages, 1)
	assert.Equal(t, "2.0", analysis.CommonPackages[0].Version)
}

func TestEmptyPoolAnalysis(t *testing.T) {
	f := newFixture(t, types.DefaultSyncPolicy())

	analysis, err := f.analyzer.Analyze(context.Background(), f.pool.ID)
	require.NoError(t, err)
	assert.Empty(t, analysis.CommonPackages)
	assert.Empty(t, analysis.ExcludedPackages)
	assert.Empty(t, analysis.Conflicts)
	assert.False(t, analysis.LastAnalyzed.IsZero())
}
