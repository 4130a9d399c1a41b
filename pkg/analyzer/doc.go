/*
Package analyzer derives, per pool, which packages can be synced safely.

Every endpoint in a pool reports the repositories it can reach. The analyzer
flattens those indexes into one availability map and partitions every
package name into exactly one bucket:

	availability (name → endpoint → version)
	     │
	     ├─ listed in sync_policy.exclude_packages ──→ excluded (policy)
	     ├─ missing on some endpoints ──────────────→ excluded (missing_from_N_endpoints)
	     ├─ everywhere, one version ────────────────→ common
	     └─ everywhere, versions differ ────────────→ excluded (version_conflict)
	                                                  + a VersionConflict record

Conflict records carry per-endpoint versions and a suggested resolution: the
most common version, ties broken by the lexicographically greatest version
string. Output is sorted by package name; the analysis is deterministic for
equal inputs.

Analysis runs on operator demand and automatically after an endpoint
replaces its repository index, if that endpoint is pooled. The latest result
per pool is cached in memory until the next recomputation.
*/
package analyzer
