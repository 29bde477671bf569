package model

import "time"

// TermStatusKind is the outcome of one query term within a cycle.
type TermStatusKind string

const (
	TermSuccess TermStatusKind = "success"
	TermError   TermStatusKind = "error"
)

// TermStatus reports what happened to one query term during a cycle.
type TermStatus struct {
	Term       string         `json:"term"`
	Status     TermStatusKind `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	SnapshotID int64          `json:"snapshot_id,omitempty"`
	Links      int            `json:"links"`
	Events     int            `json:"events"`
}

// CycleReport summarizes one ingestion cycle for a tenant.
type CycleReport struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Skipped    bool         `json:"skipped"`
	Reason     string       `json:"reason,omitempty"`
	Terms      []TermStatus `json:"terms"`
}

// Succeeded returns the number of terms that produced a snapshot.
func (r *CycleReport) Succeeded() int {
	n := 0
	for _, t := range r.Terms {
		if t.Status == TermSuccess {
			n++
		}
	}
	return n
}

// Failed returns the number of terms that errored.
func (r *CycleReport) Failed() int {
	return len(r.Terms) - r.Succeeded()
}
