package domain

import (
	"strings"
	"time"
)

// KeepPolicy selects which snapshot of a duplicate pair survives.
type KeepPolicy string

const (
	// KeepOldest deletes the newer snapshot of a duplicate pair, so each run of
	// identical snapshots collapses to its first occurrence.
	KeepOldest KeepPolicy = "oldest"
	// KeepLatest deletes the older snapshot of a duplicate pair. Snapshots
	// outside the time window are never deleted.
	KeepLatest KeepPolicy = "latest"
)

// ParseKeepPolicy parses a keep policy name. Empty means KeepOldest.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch KeepPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeepOldest:
		return KeepOldest, nil
	case KeepLatest:
		return KeepLatest, nil
	default:
		return "", ErrValidation("invalid keep policy %q: use %q or %q", s, KeepOldest, KeepLatest)
	}
}

// CleanupOptions controls a duplicate-history cleanup run.
type CleanupOptions struct {
	DryRun         bool
	Window         time.Duration // only scan history newer than now-Window; 0 scans everything
	ExcludedFields []string
	BatchSize      int           // > 0 enables batch deletion
	BatchSleep     time.Duration // pause between batches
	Keep           KeepPolicy
	Parallelism    int     // models processed concurrently; <= 1 is sequential
	TxRate         float64 // max transactions per second; 0 is unlimited
	RunID          string
}

// BatchMode reports whether deletions are gathered and applied in batches.
func (o CleanupOptions) BatchMode() bool { return o.BatchSize > 0 }

// Validate checks option ranges.
func (o CleanupOptions) Validate() error {
	if o.Window < 0 {
		return ErrValidation("time window must not be negative")
	}
	if o.BatchSize < 0 {
		return ErrValidation("batch size must not be negative")
	}
	if o.BatchSleep < 0 {
		return ErrValidation("batch sleep must not be negative")
	}
	if o.Parallelism < 0 {
		return ErrValidation("parallelism must not be negative")
	}
	if o.TxRate < 0 {
		return ErrValidation("transaction rate must not be negative")
	}
	if _, err := ParseKeepPolicy(string(o.Keep)); err != nil {
		return err
	}
	return nil
}

// ModelReport summarises the cleanup of a single model.
type ModelReport struct {
	Model      string
	Found      int64 // history rows considered
	Objects    int64 // objects scanned
	Duplicates int64 // redundant snapshots found
	Deleted    int64 // snapshots actually deleted
	Batches    int
}

// Report summarises a cleanup run across models.
type Report struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Models     []ModelReport
}

// Totals sums the per-model counters.
func (r *Report) Totals() (found, duplicates, deleted int64) {
	for _, m := range r.Models {
		found += m.Found
		duplicates += m.Duplicates
		deleted += m.Deleted
	}
	return found, duplicates, deleted
}
