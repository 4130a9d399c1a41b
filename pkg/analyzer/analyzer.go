package analyzer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
	"github.com/pacfleet/pacfleet/pkg/vercmp"
)

// Analyzer partitions the repository package universe of a pool into common,
// excluded and conflicting packages. Results are cached per pool until the
// next repository push invalidates them.
type Analyzer struct {
	store  *storage.Store
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*types.CompatibilityAnalysis
}

// New returns an analyzer over the given store.
func New(store *storage.Store) *Analyzer {
	return &Analyzer{
		store:  store,
		logger: log.WithComponent("analyzer"),
		cache:  make(map[string]*types.CompatibilityAnalysis),
	}
}

// Analyze recomputes the pool's compatibility partition and refreshes the
// cache. Output slices are sorted by package name so equal inputs produce
// equal results.
func (a *Analyzer) Analyze(ctx context.Context, poolID string) (*types.CompatibilityAnalysis, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AnalysisDuration)

	pool, err := a.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	endpoints, err := a.store.ListEndpointsByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	availability, err := a.buildAvailability(ctx, endpoints)
	if err != nil {
		return nil, err
	}

	analysis := partition(poolID, pool.SyncPolicy, len(endpoints), availability)
	analysis.LastAnalyzed = time.Now().UTC().Truncate(time.Millisecond)

	a.mu.Lock()
	a.cache[poolID] = analysis
	a.mu.Unlock()

	a.logger.Info().
		Str("pool_id", poolID).
		Int("common", len(analysis.CommonPackages)).
		Int("excluded", len(analysis.ExcludedPackages)).
		Int("conflicts", len(analysis.Conflicts)).
		Msg("pool analyzed")
	return analysis, nil
}

// Get returns the cached analysis for a pool, computing it on first access.
func (a *Analyzer) Get(ctx context.Context, poolID string) (*types.CompatibilityAnalysis, error) {
	a.mu.RLock()
	cached, ok := a.cache[poolID]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return a.Analyze(ctx, poolID)
}

// Invalidate drops the cached analysis for a pool.
func (a *Analyzer) Invalidate(poolID string) {
	a.mu.Lock()
	delete(a.cache, poolID)
	a.mu.Unlock()
}

// OnRepositoriesReplaced is the push trigger: recompute the pool's analysis
// after an endpoint replaced its repository index. Endpoints outside a pool
// have nothing to analyze against.
func (a *Analyzer) OnRepositoriesReplaced(ctx context.Context, endpointID string) {
	e, err := a.store.GetEndpoint(ctx, endpointID)
	if err != nil || e.PoolID == "" {
		return
	}
	if _, err := a.Analyze(ctx, e.PoolID); err != nil {
		a.logger.Warn().Err(err).Str("pool_id", e.PoolID).Msg("analysis after repository push failed")
	}
}

// buildAvailability flattens every endpoint's repositories into one map:
// package name → endpoint id → the package as that endpoint sees it. When
// one endpoint lists the same package in several repositories, the greatest
// version wins so the result does not depend on repository order.
func (a *Analyzer) buildAvailability(ctx context.Context, endpoints []*types.Endpoint) (map[string]map[string]types.RepositoryPackage, error) {
	availability := make(map[string]map[string]types.RepositoryPackage)
	for _, e := range endpoints {
		repos, err := a.store.ListEndpointRepositories(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			for _, pkg := range repo.Packages {
				byEndpoint, ok := availability[pkg.Name]
				if !ok {
					byEndpoint = make(map[string]types.RepositoryPackage)
					availability[pkg.Name] = byEndpoint
				}
				if existing, ok := byEndpoint[e.ID]; !ok || vercmp.Newer(pkg.Version, existing.Version) {
					byEndpoint[e.ID] = pkg
				}
			}
		}
	}
	return availability, nil
}

func partition(poolID string, policy types.SyncPolicy, total int, availability map[string]map[string]types.RepositoryPackage) *types.CompatibilityAnalysis {
	analysis := &types.CompatibilityAnalysis{
		PoolID:           poolID,
		CommonPackages:   []types.CommonPackage{},
		ExcludedPackages: []types.ExcludedPackage{},
		Conflicts:        []types.VersionConflict{},
	}

	names := make([]string, 0, len(availability))
	for name := range availability {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		byEndpoint := availability[name]

		if policy.Excluded(name) {
			analysis.ExcludedPackages = append(analysis.ExcludedPackages, types.ExcludedPackage{
				Name:   name,
				Reason: types.ExcludedByPolicy,
			})
			continue
		}

		if len(byEndpoint) < total {
			analysis.ExcludedPackages = append(analysis.ExcludedPackages, types.ExcludedPackage{
				Name:   name,
				Reason: types.ExcludedMissingFrom(total - len(byEndpoint)),
			})
			continue
		}

		versions := make(map[string]string, len(byEndpoint))
		distinct := make(map[string]int)
		for endpointID, pkg := range byEndpoint {
			versions[endpointID] = pkg.Version
			distinct[pkg.Version]++
		}

		if len(distinct) == 1 {
			// Take the reporting repo from a fixed endpoint so repeated
			// runs over the same input agree.
			endpointIDs := make([]string, 0, len(byEndpoint))
			for id := range byEndpoint {
				endpointIDs = append(endpointIDs, id)
			}
			sort.Strings(endpointIDs)
			sample := byEndpoint[endpointIDs[0]]
			analysis.CommonPackages = append(analysis.CommonPackages, types.CommonPackage{
				Name:       name,
				Version:    sample.Version,
				Repository: sample.Repository,
			})
			continue
		}

		analysis.ExcludedPackages = append(analysis.ExcludedPackages, types.ExcludedPackage{
			Name:   name,
			Reason: types.ExcludedByConflict,
		})
		analysis.Conflicts = append(analysis.Conflicts, types.VersionConflict{
			Name:                name,
			Versions:            versions,
			SuggestedResolution: suggestResolution(distinct),
		})
	}
	return analysis
}

// suggestResolution picks the most common version; ties break to the
// lexicographically greatest version string so repeated runs agree.
func suggestResolution(counts map[string]int) string {
	var best string
	bestCount := -1
	for version, count := range counts {
		if count > bestCount || (count == bestCount && version > best) {
			best = version
			bestCount = count
		}
	}
	return best
}
