package coordinator

import (
	"fmt"
	"sort"

	"github.com/pacfleet/pacfleet/pkg/types"
	"github.com/pacfleet/pacfleet/pkg/vercmp"
)

// analyzeConflicts diffs an endpoint's current package set against a target
// set and reports every divergence. Packages excluded by the pool policy
// are left alone entirely. Output is sorted by package name.
func analyzeConflicts(current, target []types.PackageRecord, policy types.SyncPolicy) []types.SyncConflict {
	currentByName := indexPackages(current)
	targetByName := indexPackages(target)

	var conflicts []types.SyncConflict

	for name, tgt := range targetByName {
		if policy.Excluded(name) {
			continue
		}
		cur, ok := currentByName[name]
		switch {
		case !ok:
			conflicts = append(conflicts, types.SyncConflict{
				Kind:            types.ConflictMissingPackage,
				Package:         name,
				TargetVersion:   tgt.Version,
				SuggestedAction: fmt.Sprintf("install %s", tgt.Version),
			})
		case cur.Version != tgt.Version:
			verb := "upgrade"
			if vercmp.Older(tgt.Version, cur.Version) {
				verb = "downgrade"
			}
			conflicts = append(conflicts, types.SyncConflict{
				Kind:            types.ConflictVersionMismatch,
				Package:         name,
				CurrentVersion:  cur.Version,
				TargetVersion:   tgt.Version,
				SuggestedAction: fmt.Sprintf("%s to %s", verb, tgt.Version),
			})
		}
	}

	for name, cur := range currentByName {
		if policy.Excluded(name) {
			continue
		}
		if _, ok := targetByName[name]; !ok {
			conflicts = append(conflicts, types.SyncConflict{
				Kind:            types.ConflictMissingPackage,
				Package:         name,
				CurrentVersion:  cur.Version,
				SuggestedAction: "remove",
			})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Package < conflicts[j].Package
	})
	return conflicts
}

// resolveConflicts turns conflicts into actions per the pool's strategy.
// manual never reaches here; the pipeline fails such operations first.
func resolveConflicts(conflicts []types.SyncConflict, resolution types.ConflictResolution) []types.ResolvedAction {
	actions := make([]types.ResolvedAction, 0, len(conflicts))
	for _, c := range conflicts {
		switch c.Kind {
		case types.ConflictMissingPackage:
			if c.TargetVersion != "" {
				actions = append(actions, types.ResolvedAction{
					Package: c.Package,
					Action:  "install",
					Version: c.TargetVersion,
				})
			} else {
				actions = append(actions, types.ResolvedAction{
					Package: c.Package,
					Action:  "remove",
				})
			}

		case types.ConflictVersionMismatch:
			chosen := c.TargetVersion
			if resolution == types.ResolutionNewest && vercmp.Newer(c.CurrentVersion, c.TargetVersion) {
				chosen = c.CurrentVersion
			}
			if resolution == types.ResolutionOldest && vercmp.Older(c.CurrentVersion, c.TargetVersion) {
				chosen = c.CurrentVersion
			}
			if chosen == c.CurrentVersion {
				actions = append(actions, types.ResolvedAction{
					Package: c.Package,
					Action:  "keep",
					Version: chosen,
				})
				continue
			}
			verb := "upgrade"
			if vercmp.Older(chosen, c.CurrentVersion) {
				verb = "downgrade"
			}
			actions = append(actions, types.ResolvedAction{
				Package: c.Package,
				Action:  verb,
				Version: chosen,
			})
		}
	}
	return actions
}

// resolveToTarget converts conflicts straight into the actions that land the
// endpoint exactly on the target set. Used by revert, where the strategy is
// fixed: the previous snapshot wins.
func resolveToTarget(conflicts []types.SyncConflict) []types.ResolvedAction {
	actions := make([]types.ResolvedAction, 0, len(conflicts))
	for _, c := range conflicts {
		switch {
		case c.Kind == types.ConflictMissingPackage && c.TargetVersion != "":
			actions = append(actions, types.ResolvedAction{Package: c.Package, Action: "install", Version: c.TargetVersion})
		case c.Kind == types.ConflictMissingPackage:
			actions = append(actions, types.ResolvedAction{Package: c.Package, Action: "remove"})
		default:
			verb := "upgrade"
			if vercmp.Older(c.TargetVersion, c.CurrentVersion) {
				verb = "downgrade"
			}
			actions = append(actions, types.ResolvedAction{Package: c.Package, Action: verb, Version: c.TargetVersion})
		}
	}
	return actions
}

func indexPackages(packages []types.PackageRecord) map[string]types.PackageRecord {
	byName := make(map[string]types.PackageRecord, len(packages))
	for _, p := range packages {
		byName[p.Name] = p
	}
	return byName
}
