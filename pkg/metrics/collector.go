package metrics

import (
	"context"
	"time"

	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

// Collector periodically refreshes fleet gauges from the store.
type Collector struct {
	store  *storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store *storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectPoolMetrics(ctx)
	c.collectEndpointMetrics(ctx)
	c.collectDBPoolMetrics()
	c.collectDBHealth(ctx)
}

// collectDBHealth keeps the readiness view of the database current.
func (c *Collector) collectDBHealth(ctx context.Context) {
	if err := c.store.HealthPing(ctx); err != nil {
		UpdateComponent("database", false, err.Error())
		return
	}
	UpdateComponent("database", true, "")
}

func (c *Collector) collectPoolMetrics(ctx context.Context) {
	pools, err := c.store.ListPools(ctx)
	if err != nil {
		return
	}
	PoolsTotal.Set(float64(len(pools)))
}

func (c *Collector) collectEndpointMetrics(ctx context.Context) {
	endpoints, err := c.store.ListEndpoints(ctx)
	if err != nil {
		return
	}

	counts := map[types.SyncStatus]int{
		types.SyncStatusInSync:  0,
		types.SyncStatusAhead:   0,
		types.SyncStatusBehind:  0,
		types.SyncStatusOffline: 0,
	}
	for _, e := range endpoints {
		counts[e.SyncStatus]++
	}
	for status, n := range counts {
		EndpointsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectDBPoolMetrics() {
	stats := c.store.Driver().Stats()
	DBPoolOpen.Set(float64(stats.Open))
	DBPoolInUse.Set(float64(stats.InUse))
	DBPoolIdle.Set(float64(stats.Idle))
}
