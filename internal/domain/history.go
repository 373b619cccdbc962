package domain

import "time"

// HistoryRecord is one snapshot row of a history table.
type HistoryRecord struct {
	HistoryID   any
	ObjectID    any
	HistoryDate time.Time
	Fields      map[string]any // tracked fields only
	FieldOrder  []string       // tracked field names in table column order
}

// Change is one tracked field that differs between two snapshots.
type Change struct {
	Field string
	Old   any // value in the older snapshot
	New   any // value in the newer snapshot
}

// Delta is the result of diffing two snapshots.
type Delta struct {
	Changes       []Change
	ChangedFields []string
}

// HasChanges reports whether any tracked field differs.
func (d Delta) HasChanges() bool { return len(d.ChangedFields) > 0 }
