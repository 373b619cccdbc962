package api

import (
	"time"

	"histclean/internal/domain"
)

// Run is the JSON form of a ledger entry.
type Run struct {
	ID            string     `json:"id"`
	Trigger       string     `json:"trigger"`
	Models        []string   `json:"models"`
	DryRun        bool       `json:"dry_run"`
	WindowMinutes int64      `json:"window_minutes,omitempty"`
	BatchSize     int        `json:"batch_size,omitempty"`
	Status        string     `json:"status"`
	Found         int64      `json:"found"`
	Duplicates    int64      `json:"duplicates"`
	Deleted       int64      `json:"deleted"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunList is a page of runs.
type RunList struct {
	Runs          []Run  `json:"runs"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// TriggerRequest starts a cleanup run. Missing fields fall back to the
// server's default job.
type TriggerRequest struct {
	Models            []string `json:"models"`
	Auto              *bool    `json:"auto"`
	DryRun            *bool    `json:"dry_run"`
	Minutes           *int     `json:"minutes"`
	ExcludedFields    []string `json:"excluded_fields"`
	BatchSize         *int     `json:"batch_size"`
	BatchSleepSeconds *int     `json:"batch_sleep_seconds"`
	Keep              *string  `json:"keep"`
}

// TriggerResponse acknowledges a started run.
type TriggerResponse struct {
	RunID  string   `json:"run_id"`
	Models []string `json:"models"`
	DryRun bool     `json:"dry_run"`
}

func runToAPI(r domain.CleanupRun) Run {
	models := r.Models
	if models == nil {
		models = []string{}
	}
	return Run{
		ID:            r.ID,
		Trigger:       r.Trigger,
		Models:        models,
		DryRun:        r.DryRun,
		WindowMinutes: int64(r.Window / time.Minute),
		BatchSize:     r.BatchSize,
		Status:        string(r.Status),
		Found:         r.Found,
		Duplicates:    r.Duplicates,
		Deleted:       r.Deleted,
		Error:         r.ErrorMessage,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}
