// Package pool manages pool membership and the aggregate sync view.
//
// Membership transitions are fixed: assignment or a move lands an endpoint
// in behind, removal drops it to offline, and designating a new target marks
// every reachable member behind. Offline members keep their status until the
// heartbeat watcher sees them again.
package pool
