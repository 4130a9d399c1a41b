/*
Package metrics provides Prometheus instrumentation and health reporting
for the coordination server.

Package-level metric variables are registered at init and updated from
three directions: request middleware (API counters and latency), the
coordinator (operation counters, durations, active gauge) and a periodic
Collector that refreshes fleet gauges from the store every 15 seconds.

Health endpoints layer on a process-wide component registry:

	/health/live      always 200 while the process responds
	/health/ready     200 once database, coordinator and api report healthy
	/health/detailed  full component map with uptime and version

Components register themselves during startup (RegisterComponent) and flip
their state on failures (UpdateComponent); readiness is computed from the
critical set only.
*/
package metrics
