package pool

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

// Manager owns pool membership and target designation. Assignment rules are
// enforced here so every caller (HTTP layer, coordinator, tests) observes
// the same transitions: assignment puts an endpoint behind, removal puts it
// offline, and a target change marks every reachable member behind.
type Manager struct {
	store    *storage.Store
	states   *state.Manager
	analyses AnalysisInvalidator
	logger   zerolog.Logger
}

// AnalysisInvalidator drops cached compatibility results for a pool.
// Membership and policy changes route through here so a cached partition
// never outlives its inputs. May be nil.
type AnalysisInvalidator interface {
	Invalidate(poolID string)
}

// Update carries a partial pool update; nil fields are left unchanged.
type Update struct {
	Name        *string
	Description *string
	SyncPolicy  *types.SyncPolicy
}

// NewManager returns a pool manager.
func NewManager(store *storage.Store, states *state.Manager, analyses AnalysisInvalidator) *Manager {
	return &Manager{
		store:    store,
		states:   states,
		analyses: analyses,
		logger:   log.WithComponent("pool"),
	}
}

func (m *Manager) invalidateAnalysis(poolID string) {
	if m.analyses != nil {
		m.analyses.Invalidate(poolID)
	}
}

// Create validates and persists a new pool. A nil policy gets the default
// (manual resolution, no auto sync).
func (m *Manager) Create(ctx context.Context, name, description string, policy *types.SyncPolicy) (*types.Pool, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	p := &types.Pool{
		ID:          types.NewID(),
		Name:        name,
		Description: description,
		SyncPolicy:  types.DefaultSyncPolicy(),
		EndpointIDs: []string{},
	}
	if policy != nil {
		if err := validatePolicy(*policy); err != nil {
			return nil, err
		}
		p.SyncPolicy = *policy
		if p.SyncPolicy.ExcludePackages == nil {
			p.SyncPolicy.ExcludePackages = []string{}
		}
	}

	if err := m.store.CreatePool(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info().Str("pool_id", p.ID).Str("name", p.Name).Msg("pool created")
	return p, nil
}

func validateName(name string) error {
	if name == "" {
		return errdefs.Validation.New("pool name is required")
	}
	if len(name) > 255 {
		return errdefs.Validation.New("pool name exceeds 255 characters")
	}
	return nil
}

func validateDescription(description string) error {
	if len(description) > 1000 {
		return errdefs.Validation.New("pool description exceeds 1000 characters")
	}
	return nil
}

func validatePolicy(p types.SyncPolicy) error {
	switch p.ConflictResolution {
	case types.ResolutionManual, types.ResolutionNewest, types.ResolutionOldest:
		return nil
	case "":
		return errdefs.Validation.New("conflict_resolution is required")
	default:
		return errdefs.Validation.New("unknown conflict_resolution %q", p.ConflictResolution)
	}
}

// Get returns one pool by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.Pool, error) {
	return m.store.GetPool(ctx, id)
}

// GetByName returns one pool by its unique name.
func (m *Manager) GetByName(ctx context.Context, name string) (*types.Pool, error) {
	return m.store.GetPoolByName(ctx, name)
}

// List returns all pools in creation order.
func (m *Manager) List(ctx context.Context) ([]*types.Pool, error) {
	return m.store.ListPools(ctx)
}

// Update applies a partial update and returns the refreshed pool.
func (m *Manager) Update(ctx context.Context, id string, upd Update) (*types.Pool, error) {
	p, err := m.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		p.Name = name
	}
	if upd.Description != nil {
		if err := validateDescription(*upd.Description); err != nil {
			return nil, err
		}
		p.Description = *upd.Description
	}
	if upd.SyncPolicy != nil {
		if err := validatePolicy(*upd.SyncPolicy); err != nil {
			return nil, err
		}
		p.SyncPolicy = *upd.SyncPolicy
		if p.SyncPolicy.ExcludePackages == nil {
			p.SyncPolicy.ExcludePackages = []string{}
		}
	}

	if err := m.store.UpdatePool(ctx, p); err != nil {
		return nil, err
	}
	if upd.SyncPolicy != nil {
		m.invalidateAnalysis(id)
	}
	return m.store.GetPool(ctx, id)
}

// Delete detaches every member endpoint and removes the pool. Detached
// endpoints survive the delete; they drop to offline with no pool.
func (m *Manager) Delete(ctx context.Context, id string) error {
	endpoints, err := m.store.ListEndpointsByPool(ctx, id)
	if err != nil {
		return err
	}
	for _, e := range endpoints {
		if err := m.RemoveEndpoint(ctx, id, e.ID); err != nil {
			return err
		}
	}
	if err := m.store.DeletePool(ctx, id); err != nil {
		return err
	}
	m.invalidateAnalysis(id)
	m.logger.Info().Str("pool_id", id).Int("detached", len(endpoints)).Msg("pool deleted")
	return nil
}

// AssignEndpoint places an endpoint into a pool. The endpoint starts behind:
// it has not yet converged on the pool's target. An endpoint that already
// belongs to another pool is detached from it first.
func (m *Manager) AssignEndpoint(ctx context.Context, poolID, endpointID string) error {
	if _, err := m.store.GetPool(ctx, poolID); err != nil {
		return err
	}
	e, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	if e.PoolID == poolID {
		return nil
	}
	previous := e.PoolID

	e.PoolID = poolID
	e.SyncStatus = types.SyncStatusBehind
	if err := m.store.UpdateEndpoint(ctx, e); err != nil {
		return err
	}
	if previous != "" {
		m.invalidateAnalysis(previous)
	}
	m.invalidateAnalysis(poolID)
	m.logger.Info().
		Str("pool_id", poolID).
		Str("endpoint_id", endpointID).
		Str("previous_pool_id", previous).
		Msg("endpoint assigned")
	return nil
}

// RemoveEndpoint detaches an endpoint from the pool it belongs to. Outside a
// pool an endpoint has no target to measure against, so its status drops to
// offline until it is assigned again.
func (m *Manager) RemoveEndpoint(ctx context.Context, poolID, endpointID string) error {
	e, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	if e.PoolID != poolID {
		return errdefs.Validation.New("endpoint %s is not a member of pool %s", endpointID, poolID)
	}

	e.PoolID = ""
	e.SyncStatus = types.SyncStatusOffline
	if err := m.store.UpdateEndpoint(ctx, e); err != nil {
		return err
	}
	m.invalidateAnalysis(poolID)
	m.logger.Info().Str("pool_id", poolID).Str("endpoint_id", endpointID).Msg("endpoint removed")
	return nil
}

// MoveEndpoint reassigns an endpoint from one pool to another in one step,
// landing it behind the destination's target.
func (m *Manager) MoveEndpoint(ctx context.Context, endpointID, fromPoolID, toPoolID string) error {
	if _, err := m.store.GetPool(ctx, toPoolID); err != nil {
		return err
	}
	e, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	if e.PoolID != fromPoolID {
		return errdefs.Validation.New("endpoint %s is not a member of pool %s", endpointID, fromPoolID)
	}
	if e.PoolID == toPoolID {
		return nil
	}

	e.PoolID = toPoolID
	e.SyncStatus = types.SyncStatusBehind
	if err := m.store.UpdateEndpoint(ctx, e); err != nil {
		return err
	}
	m.invalidateAnalysis(fromPoolID)
	m.invalidateAnalysis(toPoolID)
	m.logger.Info().
		Str("endpoint_id", endpointID).
		Str("from_pool_id", fromPoolID).
		Str("to_pool_id", toPoolID).
		Msg("endpoint moved")
	return nil
}

// SetTarget designates a snapshot as the pool's target state and marks every
// reachable member behind it. Offline endpoints keep their status; they are
// re-evaluated when they come back.
func (m *Manager) SetTarget(ctx context.Context, poolID, snapshotID string) error {
	if err := m.states.SetTarget(ctx, poolID, snapshotID); err != nil {
		return err
	}
	return m.markReachableBehind(ctx, poolID, "")
}

// ClearTarget removes the pool's target designation. With no target there is
// nothing to be behind, so member statuses are left as they are.
func (m *Manager) ClearTarget(ctx context.Context, poolID string) error {
	if _, err := m.store.GetPool(ctx, poolID); err != nil {
		return err
	}
	return m.states.ClearTarget(ctx, poolID)
}

// markReachableBehind marks every non-offline member of the pool behind,
// skipping exceptID (the endpoint whose snapshot became the target).
func (m *Manager) markReachableBehind(ctx context.Context, poolID, exceptID string) error {
	endpoints, err := m.store.ListEndpointsByPool(ctx, poolID)
	if err != nil {
		return err
	}
	for _, e := range endpoints {
		if e.ID == exceptID || e.SyncStatus == types.SyncStatusOffline {
			continue
		}
		if err := m.store.UpdateEndpointSyncStatus(ctx, e.ID, types.SyncStatusBehind); err != nil {
			return err
		}
	}
	return nil
}

// MarkOthersBehind marks every reachable member except endpointID behind.
// Used when one endpoint's current state becomes the pool target.
func (m *Manager) MarkOthersBehind(ctx context.Context, poolID, endpointID string) error {
	return m.markReachableBehind(ctx, poolID, endpointID)
}

// Status computes the aggregate view of a pool's endpoints.
func (m *Manager) Status(ctx context.Context, poolID string) (*types.PoolStatus, error) {
	if _, err := m.store.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	endpoints, err := m.store.ListEndpointsByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	st := &types.PoolStatus{PoolID: poolID, TotalEndpoints: len(endpoints)}
	for _, e := range endpoints {
		switch e.SyncStatus {
		case types.SyncStatusInSync:
			st.InSyncCount++
		case types.SyncStatusAhead:
			st.AheadCount++
		case types.SyncStatusBehind:
			st.BehindCount++
		case types.SyncStatusOffline:
			st.OfflineCount++
		}
	}

	switch {
	case st.TotalEndpoints == 0:
		// An empty pool is vacuously synced.
		st.SyncPercentage = 100
		st.OverallStatus = types.PoolStatusEmpty
	case st.InSyncCount == st.TotalEndpoints:
		st.SyncPercentage = 100
		st.OverallStatus = types.PoolStatusFullySynced
	case st.OfflineCount == st.TotalEndpoints:
		st.SyncPercentage = 0
		st.OverallStatus = types.PoolStatusAllOffline
	default:
		st.SyncPercentage = float64(st.InSyncCount) / float64(st.TotalEndpoints) * 100
		if st.InSyncCount > 0 {
			st.OverallStatus = types.PoolStatusPartiallySynced
		} else {
			st.OverallStatus = types.PoolStatusOutOfSync
		}
	}
	return st, nil
}
