package service

import "strings"

// Scope set of snapshots a refresh re-pulls
type Scope uint8

const (
	ScopeSensors Scope = 1 << iota
	ScopeReadings
	ScopeAlerts

	ScopeAll = ScopeSensors | ScopeReadings | ScopeAlerts
)

func (s Scope) String() string {
	if s == 0 {
		return "none"
	}
	if s == ScopeAll {
		return "all"
	}
	var parts []string
	for _, snap := range snapshots {
		if s&snap.scope != 0 {
			parts = append(parts, snap.name)
		}
	}
	return strings.Join(parts, "|")
}

type snapshotKind int

const (
	snapSensors snapshotKind = iota
	snapReadings
	snapAlerts
	numSnapshots
)

var snapshots = [numSnapshots]struct {
	scope Scope
	name  string
}{
	snapSensors:  {ScopeSensors, "sensors"},
	snapReadings: {ScopeReadings, "readings"},
	snapAlerts:   {ScopeAlerts, "alerts"},
}

func (k snapshotKind) String() string {
	return snapshots[k].name
}
