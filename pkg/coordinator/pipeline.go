package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/types"
)

// pipelineTimeout bounds one background pipeline end to end.
const pipelineTimeout = 10 * time.Minute

// run drives one admitted operation to a terminal status. It owns the
// single-flight reservation for its endpoint and releases it on exit.
func (c *Coordinator) run(opID, endpointID string, kind types.OperationKind) {
	defer c.wg.Done()
	defer c.release(endpointID, opID)

	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	logger := c.logger.With().Str("operation_id", opID).Str("endpoint_id", endpointID).Logger()

	op, ok := c.begin(ctx, opID)
	if !ok {
		return
	}

	var err error
	switch kind {
	case types.OpSyncToLatest:
		err = c.runSyncToLatest(ctx, op)
	case types.OpSetAsLatest:
		err = c.runSetAsLatest(ctx, op)
	case types.OpRevertToPrevious:
		err = c.runRevertToPrevious(ctx, op)
	default:
		err = errdefs.Internal.New("unknown operation kind %q", kind)
	}

	if err != nil {
		c.finish(ctx, op, types.OpStatusFailed, err.Error())
		logger.Warn().Err(err).Msg("operation failed")
	} else {
		c.finish(ctx, op, types.OpStatusCompleted, "")
		logger.Info().Msg("operation completed")
	}

	timer.ObserveDuration(metrics.OperationDuration.WithLabelValues(string(kind)))
}

// begin moves a pending operation to in_progress under the coordinator
// mutex. A concurrent cancellation wins the race: begin then reports the
// operation as not runnable.
func (c *Coordinator) begin(ctx context.Context, opID string) (*types.Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, err := c.store.GetOperation(ctx, opID)
	if err != nil {
		c.logger.Error().Err(err).Str("operation_id", opID).Msg("operation vanished before start")
		return nil, false
	}
	if op.Status != types.OpStatusPending {
		return nil, false
	}

	op.Status = types.OpStatusInProgress
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		c.logger.Error().Err(err).Str("operation_id", opID).Msg("failed to start operation")
		return nil, false
	}
	c.publish(op, "starting", 10, "")
	return op, true
}

// finish writes the terminal status. Pipeline errors land on the row, never
// on the process.
func (c *Coordinator) finish(ctx context.Context, op *types.Operation, status types.OperationStatus, errMsg string) {
	completed := time.Now().UTC().Truncate(time.Millisecond)
	op.Status = status
	op.ErrorMessage = errMsg
	op.CompletedAt = &completed
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to finalise operation")
	}
	metrics.OperationsTotal.WithLabelValues(string(op.Kind), string(status)).Inc()
	c.publish(op, "done", 100, "")
}

// runSyncToLatest drives the endpoint toward the pool target that is
// current at analysis time; a set_as_latest that interleaved since
// admission is picked up, not raced against.
func (c *Coordinator) runSyncToLatest(ctx context.Context, op *types.Operation) error {
	p, err := c.store.GetPool(ctx, op.PoolID)
	if err != nil {
		return err
	}
	target, err := c.states.GetTargetSnapshot(ctx, op.PoolID)
	if err != nil {
		return err
	}
	if target == nil {
		return errdefs.Validation.New("pool %s has no target snapshot", op.PoolID)
	}
	op.Details.TargetSnapshotID = target.ID

	// Endpoints that never pushed a snapshot sync from an empty set: every
	// target package becomes an install.
	var current []types.PackageRecord
	snaps, err := c.store.ListEndpointSnapshots(ctx, op.EndpointID, 1)
	if err != nil {
		return err
	}
	if len(snaps) > 0 {
		current = snaps[0].Packages
	}

	op.Details.Stage = "analysis"
	c.publish(op, "analysis", 30, "")
	conflicts := analyzeConflicts(current, target.Packages, p.SyncPolicy)
	op.Details.Conflicts = conflicts

	if len(conflicts) > 0 && p.SyncPolicy.ConflictResolution == types.ResolutionManual {
		if err := c.store.UpdateOperation(ctx, op); err != nil {
			return err
		}
		return errdefs.Validation.New("manual conflict resolution required for %d conflicts", len(conflicts))
	}

	op.Details.Resolved = resolveConflicts(conflicts, p.SyncPolicy.ConflictResolution)
	op.Details.Stage = "applying"
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		return err
	}
	c.publish(op, "applying", 70, applySummary(op.Details.Resolved))

	if err := c.apply(ctx, op); err != nil {
		return err
	}
	return c.store.UpdateEndpointSyncStatus(ctx, op.EndpointID, types.SyncStatusInSync)
}

// runSetAsLatest promotes the endpoint's most recent snapshot to pool
// target and re-baselines the rest of the pool.
func (c *Coordinator) runSetAsLatest(ctx context.Context, op *types.Operation) error {
	snaps, err := c.store.ListEndpointSnapshots(ctx, op.EndpointID, 1)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return errdefs.Validation.New("endpoint %s has no stored snapshots", op.EndpointID)
	}
	latest := snaps[0]
	op.Details.TargetSnapshotID = latest.ID
	op.Details.Stage = "designating"
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		return err
	}
	c.publish(op, "designating", 50, "")

	if err := c.states.SetTarget(ctx, op.PoolID, latest.ID); err != nil {
		return err
	}
	if err := c.store.UpdateEndpointSyncStatus(ctx, op.EndpointID, types.SyncStatusInSync); err != nil {
		return err
	}
	// Everyone else now measures against the new target.
	return c.pools.MarkOthersBehind(ctx, op.PoolID, op.EndpointID)
}

// runRevertToPrevious drives the endpoint back onto its own previous
// snapshot. A completed revert is in_sync with what the endpoint used to
// be, not with the pool target.
func (c *Coordinator) runRevertToPrevious(ctx context.Context, op *types.Operation) error {
	snaps, err := c.store.ListEndpointSnapshots(ctx, op.EndpointID, 2)
	if err != nil {
		return err
	}
	if len(snaps) < 2 {
		return errdefs.Validation.New("No previous state available")
	}
	current, previous := snaps[0], snaps[1]
	op.Details.TargetSnapshotID = previous.ID

	op.Details.Stage = "analysis"
	c.publish(op, "analysis", 30, "")
	conflicts := analyzeConflicts(current.Packages, previous.Packages, types.SyncPolicy{})
	op.Details.Conflicts = conflicts
	op.Details.Resolved = resolveToTarget(conflicts)
	op.Details.Stage = "applying"
	if err := c.store.UpdateOperation(ctx, op); err != nil {
		return err
	}
	c.publish(op, "applying", 70, applySummary(op.Details.Resolved))

	if err := c.apply(ctx, op); err != nil {
		return err
	}
	return c.store.UpdateEndpointSyncStatus(ctx, op.EndpointID, types.SyncStatusInSync)
}

// apply hands the recorded decisions to the mutator. Mutator failures are
// tagged so the HTTP layer and the operation row can tell them apart from
// server faults.
func (c *Coordinator) apply(ctx context.Context, op *types.Operation) error {
	e, err := c.store.GetEndpoint(ctx, op.EndpointID)
	if err != nil {
		return err
	}
	if err := c.mutator.Apply(ctx, e, op.Details.Resolved); err != nil {
		return errdefs.Mutator.Wrap(err)
	}
	return nil
}

func applySummary(actions []types.ResolvedAction) string {
	if len(actions) == 0 {
		return "no changes required"
	}
	return fmt.Sprintf("applying %d package actions", len(actions))
}
