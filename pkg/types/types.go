package types

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier: a random 128-bit value rendered
// as a 32-character lowercase hex string.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Pool represents a named group of endpoints that converge on one target
// snapshot.
type Pool struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	TargetSnapshotID string     `json:"target_snapshot_id,omitempty"`
	SyncPolicy       SyncPolicy `json:"sync_policy"`
	EndpointIDs      []string   `json:"endpoint_ids"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SyncPolicy controls how conflicts are handled when endpoints in a pool
// are driven toward the target snapshot.
type SyncPolicy struct {
	AutoSync           bool               `json:"auto_sync"`
	ExcludePackages    []string           `json:"exclude_packages"`
	IncludeAUR         bool               `json:"include_aur"`
	ConflictResolution ConflictResolution `json:"conflict_resolution"`
}

// ConflictResolution selects the strategy used when the current and target
// package sets disagree on a version.
type ConflictResolution string

const (
	ResolutionManual ConflictResolution = "manual"
	ResolutionNewest ConflictResolution = "newest"
	ResolutionOldest ConflictResolution = "oldest"
)

// DefaultSyncPolicy returns the policy applied to pools created without one.
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		AutoSync:           false,
		ExcludePackages:    []string{},
		IncludeAUR:         false,
		ConflictResolution: ResolutionManual,
	}
}

// Excluded reports whether the policy excludes the named package.
func (p SyncPolicy) Excluded(name string) bool {
	for _, n := range p.ExcludePackages {
		if n == name {
			return true
		}
	}
	return false
}

// Endpoint is a registered Arch-family host that reports package state.
type Endpoint struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Hostname      string     `json:"hostname"`
	PoolID        string     `json:"pool_id,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`
	AuthTokenHash string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SyncStatus is an endpoint's position relative to its pool's target.
type SyncStatus string

const (
	SyncStatusInSync  SyncStatus = "in_sync"
	SyncStatusAhead   SyncStatus = "ahead"
	SyncStatusBehind  SyncStatus = "behind"
	SyncStatusOffline SyncStatus = "offline"
)

// ValidSyncStatus reports whether s is one of the recognised statuses.
func ValidSyncStatus(s SyncStatus) bool {
	switch s {
	case SyncStatusInSync, SyncStatusAhead, SyncStatusBehind, SyncStatusOffline:
		return true
	}
	return false
}

// PackageRecord describes one installed package inside a snapshot.
type PackageRecord struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Repository    string   `json:"repository"`
	InstalledSize int64    `json:"installed_size"`
	Dependencies  []string `json:"dependencies,omitempty"`
}

// Snapshot is an immutable record of the installed package set on one
// endpoint at one instant. Snapshots are append-only; once saved, their
// packages, captured_at and endpoint_id never change.
type Snapshot struct {
	ID            string          `json:"id"`
	PoolID        string          `json:"pool_id"`
	EndpointID    string          `json:"endpoint_id"`
	CapturedAt    time.Time       `json:"captured_at"`
	PacmanVersion string          `json:"pacman_version"`
	Architecture  string          `json:"architecture"`
	Packages      []PackageRecord `json:"packages"`
}

// OperationKind is the type of a sync operation.
type OperationKind string

const (
	OpSyncToLatest     OperationKind = "sync_to_latest"
	OpSetAsLatest      OperationKind = "set_as_latest"
	OpRevertToPrevious OperationKind = "revert_to_previous"
)

// OperationStatus is the lifecycle state of an operation. Transitions are
// monotone: pending → in_progress → (completed | failed), pending → cancelled.
type OperationStatus string

const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusInProgress OperationStatus = "in_progress"
	OpStatusCompleted  OperationStatus = "completed"
	OpStatusFailed     OperationStatus = "failed"
	OpStatusCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s OperationStatus) Terminal() bool {
	switch s {
	case OpStatusCompleted, OpStatusFailed, OpStatusCancelled:
		return true
	}
	return false
}

// Operation records one sync action against one endpoint.
type Operation struct {
	ID           string           `json:"id"`
	PoolID       string           `json:"pool_id"`
	EndpointID   string           `json:"endpoint_id"`
	Kind         OperationKind    `json:"kind"`
	Status       OperationStatus  `json:"status"`
	Details      OperationDetails `json:"details"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// OperationDetails is the structured payload recorded on an operation as it
// progresses through its pipeline.
type OperationDetails struct {
	TargetSnapshotID string           `json:"target_snapshot_id,omitempty"`
	Conflicts        []SyncConflict   `json:"conflicts,omitempty"`
	Resolved         []ResolvedAction `json:"resolved,omitempty"`
	Stage            string           `json:"stage,omitempty"`
}

// ConflictKind classifies a divergence between current and target state.
type ConflictKind string

const (
	ConflictVersionMismatch ConflictKind = "version_mismatch"
	ConflictMissingPackage  ConflictKind = "missing_package"

	// Reserved kinds, produced when analyzer output is fed into an
	// operation rather than by the sync pipeline itself.
	ConflictDependency      ConflictKind = "dependency_conflict"
	ConflictRepoUnavailable ConflictKind = "repository_unavailable"
)

// SyncConflict is one divergence detected between an endpoint's current
// package set and the state it is being driven to.
type SyncConflict struct {
	Kind            ConflictKind `json:"kind"`
	Package         string       `json:"package"`
	CurrentVersion  string       `json:"current_version,omitempty"`
	TargetVersion   string       `json:"target_version,omitempty"`
	SuggestedAction string       `json:"suggested_action"`
}

// ResolvedAction is the decision recorded for one package after conflict
// resolution. The core records decisions; applying them is the mutator's job.
type ResolvedAction struct {
	Package string `json:"package"`
	Action  string `json:"action"` // install, remove, upgrade, downgrade, keep
	Version string `json:"version,omitempty"`
}

// RepositoryPackage describes one package as listed by a repository index.
type RepositoryPackage struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Repository   string `json:"repository"`
	Architecture string `json:"architecture"`
	Description  string `json:"description,omitempty"`
}

// Repository is one package repository (e.g. "core", "extra") as seen from
// one endpoint. Repositories are bulk-replaced per endpoint on each push.
type Repository struct {
	ID          string              `json:"id"`
	EndpointID  string              `json:"endpoint_id"`
	RepoName    string              `json:"repo_name"`
	PrimaryURL  string              `json:"primary_url"`
	Mirrors     []string            `json:"mirrors,omitempty"`
	Packages    []RepositoryPackage `json:"packages"`
	LastUpdated time.Time           `json:"last_updated"`
}

// PackageAvailability maps, for one package name, each contributing
// endpoint to the version it can see. Transient; produced by the analyzer.
type PackageAvailability struct {
	Name      string                       `json:"name"`
	Endpoints map[string]RepositoryPackage `json:"endpoints"`
}

// ExclusionReason tags why a package was excluded from the common set.
type ExclusionReason string

const (
	ExcludedByPolicy   ExclusionReason = "policy"
	ExcludedByConflict ExclusionReason = "version_conflict"
)

// ExcludedMissingFrom is the reason for a package present on only part of
// the pool, parameterised by how many endpoints lack it.
func ExcludedMissingFrom(n int) ExclusionReason {
	return ExclusionReason(fmt.Sprintf("missing_from_%d_endpoints", n))
}

// ExcludedPackage is one package the analyzer determined cannot be safely
// synced across the pool.
type ExcludedPackage struct {
	Name   string          `json:"name"`
	Reason ExclusionReason `json:"reason"`
	Detail string          `json:"detail,omitempty"`
}

// CommonPackage is a package present on every endpoint of a pool at a
// single version.
type CommonPackage struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Repository string `json:"repository"`
}

// VersionConflict records per-endpoint versions for a package that is
// present everywhere but not at one version.
type VersionConflict struct {
	Name                string            `json:"name"`
	Versions            map[string]string `json:"versions"` // endpoint id → version
	SuggestedResolution string            `json:"suggested_resolution"`
}

// CompatibilityAnalysis is the analyzer's per-pool partition of the
// repository package universe.
type CompatibilityAnalysis struct {
	PoolID           string            `json:"pool_id"`
	CommonPackages   []CommonPackage   `json:"common_packages"`
	ExcludedPackages []ExcludedPackage `json:"excluded_packages"`
	Conflicts        []VersionConflict `json:"conflicts"`
	LastAnalyzed     time.Time         `json:"last_analyzed"`
}

// PoolStatusOverall is the aggregate state of a pool.
type PoolStatusOverall string

const (
	PoolStatusEmpty           PoolStatusOverall = "empty"
	PoolStatusFullySynced     PoolStatusOverall = "fully_synced"
	PoolStatusAllOffline      PoolStatusOverall = "all_offline"
	PoolStatusPartiallySynced PoolStatusOverall = "partially_synced"
	PoolStatusOutOfSync       PoolStatusOverall = "out_of_sync"
)

// PoolStatus is the denormalised aggregate view of a pool's endpoints.
type PoolStatus struct {
	PoolID         string            `json:"pool_id"`
	TotalEndpoints int               `json:"total_endpoints"`
	InSyncCount    int               `json:"in_sync_count"`
	AheadCount     int               `json:"ahead_count"`
	BehindCount    int               `json:"behind_count"`
	OfflineCount   int               `json:"offline_count"`
	SyncPercentage float64           `json:"sync_percentage"`
	OverallStatus  PoolStatusOverall `json:"overall_status"`
}
