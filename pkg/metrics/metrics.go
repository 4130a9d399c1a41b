package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_pools_total",
			Help: "Total number of pools",
		},
	)

	EndpointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacfleet_endpoints_total",
			Help: "Total number of endpoints by sync status",
		},
		[]string{"sync_status"},
	)

	SnapshotsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pacfleet_snapshots_saved_total",
			Help: "Total number of snapshots saved",
		},
	)

	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacfleet_operations_total",
			Help: "Total number of operations by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	OperationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_operations_active",
			Help: "Number of operations currently pending or in progress",
		},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacfleet_operation_duration_seconds",
			Help:    "Operation pipeline duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Analyzer metrics
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pacfleet_analysis_duration_seconds",
			Help:    "Repository compatibility analysis duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacfleet_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacfleet_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	WSClientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_ws_clients_connected",
			Help: "Number of connected WebSocket clients",
		},
	)

	// Storage metrics
	DBPoolOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_db_pool_open_connections",
			Help: "Open database connections",
		},
	)

	DBPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_db_pool_in_use_connections",
			Help: "Database connections currently in use",
		},
	)

	DBPoolIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacfleet_db_pool_idle_connections",
			Help: "Idle database connections",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(EndpointsTotal)
	prometheus.MustRegister(SnapshotsSaved)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationsActive)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(WSClientsConnected)
	prometheus.MustRegister(DBPoolOpen)
	prometheus.MustRegister(DBPoolInUse)
	prometheus.MustRegister(DBPoolIdle)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
