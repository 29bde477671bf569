package model

import "time"

// Snapshot is one ingestion run for one query term at one point in time.
// Snapshots are immutable once stored.
type Snapshot struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Query        string    `json:"query"`
	SearchDate   time.Time `json:"search_date"`
	TotalResults int64     `json:"total_results"`
	Links        []Link    `json:"links"`
}

// Link is one ranked result within a Snapshot.
type Link struct {
	ID         int64     `json:"id"`
	SnapshotID int64     `json:"snapshot_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	Position   int       `json:"position"` // 1-based, dense within a snapshot
	Domain     string    `json:"domain"`
	CreatedAt  time.Time `json:"created_at"`
}

// Before reports whether s orders before o: by search date, then by id.
func (s *Snapshot) Before(o *Snapshot) bool {
	if !s.SearchDate.Equal(o.SearchDate) {
		return s.SearchDate.Before(o.SearchDate)
	}
	return s.ID < o.ID
}
