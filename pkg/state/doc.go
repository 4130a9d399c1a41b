// Package state manages the snapshot lifecycle: capture from endpoints,
// bounded retention, and target designation per pool.
//
// Snapshots are append-only. Saving never mutates history, reverting is a
// matter of picking the previous snapshot as a target, and retention pruning
// skips any snapshot currently designated as a pool target so an old target
// remains restorable indefinitely.
package state
