// Package detect compares consecutive snapshots of a query term and
// classifies position movements.
package detect

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/model"
)

// Default thresholds.
const (
	DefaultChangeThreshold = 3
	DefaultCriticalDrop    = 5
)

// Thresholds control when a movement becomes an event.
type Thresholds struct {
	// Change is the minimum absolute movement reported as position_changed.
	Change int `yaml:"change_threshold" mapstructure:"change_threshold"`
	// CriticalDrop is the minimum downward movement reported as critical_drop.
	// It is checked on its own, so it may be set below Change.
	CriticalDrop int `yaml:"critical_drop" mapstructure:"critical_drop"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Change <= 0 {
		t.Change = DefaultChangeThreshold
	}
	if t.CriticalDrop <= 0 {
		t.CriticalDrop = DefaultCriticalDrop
	}
	return t
}

// SnapshotReader is the part of the store the detector needs.
type SnapshotReader interface {
	PreviousSnapshot(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error)
}

// Detector emits change events for newly stored snapshots.
type Detector struct {
	th Thresholds
}

// New creates a Detector. Zero thresholds fall back to the defaults.
func New(th Thresholds) *Detector {
	return &Detector{th: th.withDefaults()}
}

// Detect compares snap with the previous snapshot of the same query term.
// The first snapshot of a term is a baseline and yields no events.
func (d *Detector) Detect(ctx context.Context, r SnapshotReader, snap *model.Snapshot) ([]model.ChangeEvent, error) {
	prev, err := r.PreviousSnapshot(ctx, snap)
	if err != nil {
		return nil, eris.Wrapf(err, "detect: previous snapshot of %q", snap.Query)
	}
	if prev == nil {
		return nil, nil
	}
	return d.Compare(prev, snap), nil
}

// Compare returns the events for URLs present in both snapshots, in the
// order they appear in next. URLs only in one of them are ignored.
func (d *Detector) Compare(prev, next *model.Snapshot) []model.ChangeEvent {
	if prev == nil || next == nil {
		return nil
	}

	// Later entries win when a URL appears more than once.
	before := make(map[string]int, len(prev.Links))
	for _, l := range prev.Links {
		before[l.URL] = l.Position
	}

	var events []model.ChangeEvent
	for _, l := range next.Links {
		old, ok := before[l.URL]
		if !ok {
			continue
		}
		change := l.Position - old
		moved := abs(change) >= d.th.Change
		critical := change >= d.th.CriticalDrop
		if !moved && !critical {
			continue
		}
		ev := model.ChangeEvent{
			Kind:        model.ChangePositionChanged,
			TenantID:    next.TenantID,
			Query:       next.Query,
			URL:         l.URL,
			Domain:      l.Domain,
			OldPosition: old,
			NewPosition: l.Position,
			Change:      change,
		}
		if moved {
			events = append(events, ev)
		}
		if critical {
			ev.Kind = model.ChangeCriticalDrop
			events = append(events, ev)
		}
	}
	return events
}

// Compare runs Detector.Compare with the default thresholds.
func Compare(prev, next *model.Snapshot) []model.ChangeEvent {
	return New(Thresholds{}).Compare(prev, next)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
