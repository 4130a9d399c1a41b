/*
Package storage provides relational persistence for Pacfleet's coordination
state on two SQL engines behind one driver abstraction.

The same Store runs unchanged on the embedded single-file engine (SQLite,
database.kind=embedded) and the server-grade engine (PostgreSQL,
database.kind=server). Engine differences — placeholder syntax, JSON column
types, timestamp storage, ALTER TABLE support — are isolated in the Driver.

# Architecture

	┌──────────────────── STORAGE ─────────────────────────┐
	│                                                       │
	│  ┌───────────────────────────────────────┐           │
	│  │              Store                     │           │
	│  │  pools / endpoints / snapshots /       │           │
	│  │  repositories / operations CRUD        │           │
	│  │  JSON payload columns via encoding/json│           │
	│  │  transient errors retried once         │           │
	│  └───────────────┬───────────────────────┘           │
	│                  │  `?` placeholder SQL               │
	│  ┌───────────────▼───────────────────────┐           │
	│  │              Driver                    │           │
	│  │  Exec / FetchOne / FetchAll /          │           │
	│  │  FetchScalar / Tx / Placeholder /      │           │
	│  │  Rebind / HealthPing / Stats           │           │
	│  └───────┬───────────────────┬───────────┘           │
	│          │                   │                        │
	│  ┌───────▼────────┐  ┌───────▼────────┐              │
	│  │ sqlite          │  │ postgres       │              │
	│  │ 1 writer conn   │  │ bounded pool   │              │
	│  │ TEXT JSON       │  │ JSONB          │              │
	│  │ TIMESTAMP text  │  │ TIMESTAMPTZ    │              │
	│  │ `?` params      │  │ $n params      │              │
	│  └────────────────┘  └────────────────┘              │
	└───────────────────────────────────────────────────────┘

# Schema and migrations

Six tables: pools, endpoints, snapshots, repositories, operations and
schema_migrations. Migrations are an ordered list keyed by string version;
each applies inside one transaction and is recorded only when every
statement succeeds, so a failing migration aborts the batch without a
partial record.

The Pool ↔ Snapshot reference cycle (pools.target_snapshot_id →
snapshots.id, snapshots.pool_id → pools.id) is resolved by creating pools
without the cross-FK and adding a deferred constraint in a follow-up
migration on PostgreSQL; SQLite cannot ADD CONSTRAINT, so there the
reference is application-enforced (SetPoolTarget verifies existence, and
target snapshots are exempt from retention pruning and endpoint deletes).

# Invariant support

Snapshots are append-only: the package exposes no snapshot update. Bulk
repository replacement is delete-then-insert in one transaction so a push
can never leave stale packages behind. FailInterruptedOperations finalises
rows left non-terminal by a crash before the coordinator admits new work.
*/
package storage
