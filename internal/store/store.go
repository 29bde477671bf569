// Package store persists per-tenant search settings and the append-only
// history of snapshots and their ranked links.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/model"
)

// SnapshotFilter specifies criteria for listing snapshots. Limit defaults to
// 100 when zero and NoLimit returns every match. Desc lists newest first, the
// default is oldest first.
type SnapshotFilter struct {
	Query  string    `json:"query,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Until  time.Time `json:"until,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
	Desc   bool      `json:"desc,omitempty"`
}

// Store is the result store of a single tenant. Implementations must make
// CreateSnapshot all-or-nothing and fill in the snapshot and link ids it
// assigned. Every snapshot read returns the snapshot with its links ordered
// by position.
type Store interface {
	// Settings
	GetSettings(ctx context.Context) (*model.Settings, error)
	EnsureSettings(ctx context.Context, defaults model.Settings) (*model.Settings, error)
	SaveSettings(ctx context.Context, s *model.Settings) error

	// Snapshots
	CreateSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshot(ctx context.Context, id int64) (*model.Snapshot, error)
	PreviousSnapshot(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error)
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
	FirstSnapshot(ctx context.Context) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrSnapshotNotFound is returned by GetSnapshot for unknown ids.
var ErrSnapshotNotFound = eris.New("snapshot not found")

// NoLimit lifts the row cap of ListSnapshots.
const NoLimit = -1

func defaultLimit(limit int) int {
	if limit == 0 {
		return 100
	}
	return limit
}
