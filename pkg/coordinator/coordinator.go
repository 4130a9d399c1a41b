package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/events"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/pool"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

// Coordinator owns the operation lifecycle: admission with single-flight
// reservation, the three processing pipelines, status propagation and crash
// recovery. Operations are admitted synchronously and driven to a terminal
// status in the background, with every change published on the broker.
type Coordinator struct {
	store   *storage.Store
	states  *state.Manager
	pools   *pool.Manager
	broker  *events.Broker
	mutator Mutator
	logger  zerolog.Logger

	// mu guards the single-flight reservation and every operation status
	// transition, so an admission check, the row insert, cancellation and
	// the pending→in_progress step can never interleave.
	mu     sync.Mutex
	active map[string]string // endpoint id → operation id

	wg       sync.WaitGroup
	draining atomic.Bool

	heartbeatThreshold time.Duration
	watchStopCh        chan struct{}
	watchStopOnce      sync.Once
}

// Config carries the coordinator's collaborators and tuning.
type Config struct {
	Store              *storage.Store
	States             *state.Manager
	Pools              *pool.Manager
	Broker             *events.Broker
	Mutator            Mutator
	HeartbeatThreshold time.Duration
}

// New builds a coordinator. A nil Mutator gets the recording default.
func New(cfg Config) *Coordinator {
	mutator := cfg.Mutator
	if mutator == nil {
		mutator = RecordingMutator{}
	}
	threshold := cfg.HeartbeatThreshold
	if threshold <= 0 {
		threshold = 300 * time.Second
	}
	return &Coordinator{
		store:              cfg.Store,
		states:             cfg.States,
		pools:              cfg.Pools,
		broker:             cfg.Broker,
		mutator:            mutator,
		logger:             log.WithComponent("coordinator"),
		active:             make(map[string]string),
		heartbeatThreshold: threshold,
		watchStopCh:        make(chan struct{}),
	}
}

// Recover finalises operations left non-terminal by a previous process as
// failed:"interrupted". Must run before the coordinator admits anything;
// recovered rows do not hold single-flight reservations.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	n, err := c.store.FailInterruptedOperations(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Warn().Int("operations", n).Msg("interrupted operations finalised as failed")
	}
	return n, nil
}

// SyncToLatest admits a sync_to_latest operation for the endpoint and
// returns it in pending status; the pipeline runs in the background.
func (c *Coordinator) SyncToLatest(ctx context.Context, endpointID string) (*types.Operation, error) {
	e, err := c.admissible(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	p, err := c.store.GetPool(ctx, e.PoolID)
	if err != nil {
		return nil, err
	}
	if p.TargetSnapshotID == "" {
		return nil, errdefs.Validation.New("pool %s has no target snapshot", p.ID)
	}
	return c.admit(ctx, e, types.OpSyncToLatest)
}

// SetAsLatest admits a set_as_latest operation: the endpoint's most recent
// snapshot becomes the pool's target.
func (c *Coordinator) SetAsLatest(ctx context.Context, endpointID string) (*types.Operation, error) {
	e, err := c.admissible(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	snaps, err := c.store.ListEndpointSnapshots(ctx, endpointID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errdefs.Validation.New("endpoint %s has no stored snapshots", endpointID)
	}
	return c.admit(ctx, e, types.OpSetAsLatest)
}

// RevertToPrevious admits a revert_to_previous operation, driving the
// endpoint back to its second-most-recent snapshot.
func (c *Coordinator) RevertToPrevious(ctx context.Context, endpointID string) (*types.Operation, error) {
	e, err := c.admissible(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	prev, err := c.states.GetPreviousSnapshot(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, errdefs.Validation.New("No previous state available")
	}
	return c.admit(ctx, e, types.OpRevertToPrevious)
}

// admissible runs the preconditions shared by all three operations.
func (c *Coordinator) admissible(ctx context.Context, endpointID string) (*types.Endpoint, error) {
	if c.draining.Load() {
		return nil, errdefs.Storage.New("server is shutting down")
	}
	e, err := c.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if e.PoolID == "" {
		return nil, errdefs.Validation.New("endpoint %s is not assigned to a pool", endpointID)
	}
	return e, nil
}

// admit inserts the pending row under the single-flight reservation and
// schedules the pipeline. The reservation check and the insert share one
// critical section; two racing admissions for the same endpoint cannot both
// pass.
func (c *Coordinator) admit(ctx context.Context, e *types.Endpoint, kind types.OperationKind) (*types.Operation, error) {
	op := &types.Operation{
		ID:         types.NewID(),
		PoolID:     e.PoolID,
		EndpointID: e.ID,
		Kind:       kind,
		Status:     types.OpStatusPending,
	}

	c.mu.Lock()
	if activeID, busy := c.active[e.ID]; busy {
		c.mu.Unlock()
		return nil, errdefs.Conflict.New("endpoint %s already has active operation %s", e.ID, activeID)
	}
	if err := c.store.CreateOperation(ctx, op); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.active[e.ID] = op.ID
	c.mu.Unlock()

	metrics.OperationsActive.Inc()
	c.publish(op, "queued", 0, "")
	c.logger.Info().
		Str("operation_id", op.ID).
		Str("endpoint_id", e.ID).
		Str("kind", string(kind)).
		Msg("operation admitted")

	c.wg.Add(1)
	go c.run(op.ID, e.ID, kind)
	return op, nil
}

// release clears the endpoint's single-flight reservation if it is still
// held by opID.
func (c *Coordinator) release(endpointID, opID string) {
	c.mu.Lock()
	if c.active[endpointID] == opID {
		delete(c.active, endpointID)
	}
	c.mu.Unlock()
	metrics.OperationsActive.Dec()
}

// GetOperation returns one operation by id.
func (c *Coordinator) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	return c.store.GetOperation(ctx, id)
}

// ListEndpointOperations returns an endpoint's operation history.
func (c *Coordinator) ListEndpointOperations(ctx context.Context, endpointID string, limit int) ([]*types.Operation, error) {
	return c.store.ListEndpointOperations(ctx, endpointID, limit)
}

// ListPoolOperations returns a pool's operation history.
func (c *Coordinator) ListPoolOperations(ctx context.Context, poolID string, limit int) ([]*types.Operation, error) {
	return c.store.ListPoolOperations(ctx, poolID, limit)
}

// CancelOperation cancels a pending operation and releases its reservation.
// In-progress operations cannot be cancelled; the mutator is treated as
// non-interruptible.
func (c *Coordinator) CancelOperation(ctx context.Context, id string) (*types.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, err := c.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Status != types.OpStatusPending {
		return nil, errdefs.Conflict.New("operation %s is %s; only pending operations can be cancelled", id, op.Status)
	}

	completed := time.Now().UTC().Truncate(time.Millisecond)
	op.Status = types.OpStatusCancelled
	op.CompletedAt = &completed
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		return nil, err
	}
	if c.active[op.EndpointID] == op.ID {
		delete(c.active, op.EndpointID)
	}

	metrics.OperationsTotal.WithLabelValues(string(op.Kind), string(op.Status)).Inc()
	c.publish(op, "cancelled", 100, "")
	c.logger.Info().Str("operation_id", id).Msg("operation cancelled")
	return op, nil
}

// Shutdown stops admitting operations and waits for running pipelines
// until ctx expires.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.draining.Store(true)
	c.StopWatcher()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errdefs.Internal.New("shutdown timed out with pipelines still running")
	}
}

// Draining reports whether the coordinator is shutting down.
func (c *Coordinator) Draining() bool { return c.draining.Load() }

// ActiveCount returns the number of held single-flight reservations.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Coordinator) publish(op *types.Operation, stage string, pct float64, action string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		OperationID: op.ID,
		EndpointID:  op.EndpointID,
		PoolID:      op.PoolID,
		Status:      op.Status,
		Error:       op.ErrorMessage,
		Progress: events.Progress{
			Stage:         stage,
			Percentage:    pct,
			CurrentAction: action,
		},
	})
}
