// Package coordinator owns the operation lifecycle for pacfleet: admission,
// the three sync pipelines, cancellation, heartbeat tracking and crash
// recovery.
//
// Operations are admitted synchronously and driven asynchronously:
//
//	  API request
//	      |
//	      v
//	+-------------+  precondition     +----------------------+
//	| admissible  |------------------>| single-flight admit  |
//	| (endpoint,  |  failures return  | (mu: check active    |
//	|  pool, ...) |  immediately,     |  map + insert row)   |
//	+-------------+  no row created   +----------+-----------+
//	                                             |
//	                                   pending row + goroutine
//	                                             |
//	                                             v
//	                              +--------------------------+
//	                              | pipeline (run)           |
//	                              |  begin: pending ->       |
//	                              |         in_progress      |
//	                              |  analyze -> resolve ->   |
//	                              |  mutator.Apply           |
//	                              |  finish: completed/failed|
//	                              +--------------------------+
//	                                             |
//	                              progress events on the broker
//
// One endpoint holds at most one non-terminal operation at a time. The
// reservation check, the row insert, cancellation and the pending to
// in_progress step all run under a single mutex, so two racing admissions
// cannot both pass and a cancel cannot lose to a starting pipeline.
//
// Pipeline failures are data, not faults: they land on the operation row as
// status failed with an error message, and the endpoint's sync status is
// left untouched. Only a completed pipeline moves the endpoint to in_sync.
//
// Recover must run once at startup, before any admission: it finalises rows
// left in pending or in_progress by a crashed process as failed with error
// "interrupted".
package coordinator
