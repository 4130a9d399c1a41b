package coordinator

import (
	"context"
	"time"

	"github.com/pacfleet/pacfleet/pkg/types"
)

// watchInterval is how often the watcher sweeps for stale endpoints.
const watchInterval = 30 * time.Second

// Heartbeat records that an endpoint was just seen. An endpoint returning
// from offline re-enters as behind; it must sync before it counts as
// converged again.
func (c *Coordinator) Heartbeat(ctx context.Context, endpointID string) error {
	e, err := c.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := c.store.TouchEndpointLastSeen(ctx, endpointID, now); err != nil {
		return err
	}
	if e.SyncStatus == types.SyncStatusOffline {
		c.logger.Info().Str("endpoint_id", endpointID).Msg("endpoint back online")
		return c.store.UpdateEndpointSyncStatus(ctx, endpointID, types.SyncStatusBehind)
	}
	return nil
}

// StartWatcher launches the background sweep that marks endpoints offline
// once their last heartbeat is older than the configured threshold.
func (c *Coordinator) StartWatcher() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.watchStopCh:
				return
			case <-ticker.C:
				c.sweepStale(context.Background())
			}
		}
	}()
	c.logger.Info().Dur("threshold", c.heartbeatThreshold).Msg("heartbeat watcher started")
}

// StopWatcher stops the sweep loop. Safe to call more than once.
func (c *Coordinator) StopWatcher() {
	c.watchStopOnce.Do(func() { close(c.watchStopCh) })
}

// sweepStale marks every endpoint whose last_seen predates the threshold as
// offline. Endpoints that never sent a heartbeat are left alone; offline is
// a statement about lost contact, not about contact never made.
func (c *Coordinator) sweepStale(ctx context.Context) {
	endpoints, err := c.store.ListEndpoints(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("stale sweep failed to list endpoints")
		return
	}
	cutoff := time.Now().UTC().Add(-c.heartbeatThreshold)
	for _, e := range endpoints {
		if e.SyncStatus == types.SyncStatusOffline {
			continue
		}
		if e.LastSeen == nil || !e.LastSeen.Before(cutoff) {
			continue
		}
		if err := c.store.UpdateEndpointSyncStatus(ctx, e.ID, types.SyncStatusOffline); err != nil {
			c.logger.Error().Err(err).Str("endpoint_id", e.ID).Msg("failed to mark endpoint offline")
			continue
		}
		c.logger.Warn().
			Str("endpoint_id", e.ID).
			Time("last_seen", *e.LastSeen).
			Msg("endpoint marked offline after missed heartbeats")
	}
}
