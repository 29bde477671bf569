package model

// ChangeKind classifies a position movement.
type ChangeKind string

const (
	ChangePositionChanged ChangeKind = "position_changed"
	ChangeCriticalDrop    ChangeKind = "critical_drop"
)

// ChangeEvent is a classified position movement of one URL between two
// consecutive snapshots of the same query term. Change is new minus old, so a
// positive value means the URL ranks worse.
type ChangeEvent struct {
	Kind        ChangeKind `json:"kind"`
	TenantID    string     `json:"tenant_id"`
	Query       string     `json:"query"`
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	OldPosition int        `json:"old_position"`
	NewPosition int        `json:"new_position"`
	Change      int        `json:"change"`
}

// Improved reports whether the URL moved up.
func (e ChangeEvent) Improved() bool {
	return e.Change < 0
}
