package model

import (
	"time"
)

// RunState is a step in the lifecycle of one acquisition run.
type RunState string

const (
	RunStarted     RunState = "started"
	RunFetching    RunState = "fetching"
	RunReconciling RunState = "reconciling"
	RunLogged      RunState = "logged"
	RunSucceeded   RunState = "succeeded"
	RunFailed      RunState = "failed"
)

// AcquisitionLogEntry is one immutable row of the acquisition audit trail.
type AcquisitionLogEntry struct {
	ID             int64         `json:"id"`
	RunID          string        `json:"run_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
	Message        string        `json:"message"`
	Scheduled      bool          `json:"scheduled"`
	Kind           SourceKind    `json:"kind"`
	CreatedVendors int           `json:"created_vendors"`
	NewPrices      int           `json:"new_prices"`
	UpdatedPrices  int           `json:"updated_prices"`
	Duration       time.Duration `json:"duration"`
}

// LogFilter narrows an audit log query.
type LogFilter struct {
	Kind  SourceKind `json:"kind,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// Outcome is the result of one acquisition run as seen by the caller.
type Outcome struct {
	RunID   string               `json:"run_id"`
	Kind    SourceKind           `json:"kind"`
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Result  ReconciliationResult `json:"result"`
	State   RunState             `json:"state"`
}

// ScheduledJob is a read-only view of a recurring acquisition job.
type ScheduledJob struct {
	Name    string     `json:"name"`
	Kind    SourceKind `json:"kind"`
	Spec    string     `json:"spec"`
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
}
