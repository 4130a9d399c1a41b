/*
Package types defines the core data model shared by every Pacfleet component:
pools, endpoints, snapshots, operations and repositories, plus the derived
records produced by the repository analyzer.

# Entities

	Pool       — named group of endpoints converging on one target snapshot
	Endpoint   — a registered Arch-family host reporting package state
	Snapshot   — immutable record of one endpoint's installed package set
	Operation  — one recorded sync / set-latest / revert action
	Repository — one package repository as seen from one endpoint

All identifiers are opaque 128-bit values rendered as lowercase hex strings
(NewID). Timestamps are UTC. Status enums are string-typed so they serialize
directly in API payloads and JSON storage columns.

Relationships:

	Pool 1 ──── n Endpoint         (Endpoint.PoolID, authoritative)
	Pool 1 ──── n Snapshot         (Snapshot.PoolID)
	Pool 0..1 ─── Snapshot         (Pool.TargetSnapshotID, nullable)
	Endpoint 1 ─ n Snapshot        (append-only history)
	Endpoint 1 ─ n Operation       (at most one non-terminal at a time)
	Endpoint 1 ─ n Repository      (unique per repo name, bulk-replaced)

The derived CompatibilityAnalysis / PackageAvailability records are never
persisted; they are computed from Repository rows on demand.
*/
package types
