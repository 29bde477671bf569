package model

import (
	"strings"
	"time"
)

// Settings is the per-tenant search configuration. A tenant has at most one.
type Settings struct {
	SearchQuery   string    `json:"search_query" yaml:"search_query"`
	Location      string    `json:"location" yaml:"location"`
	Enabled       bool      `json:"enabled" yaml:"enabled"`
	IntervalHours int       `json:"interval_hours" yaml:"interval_hours"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Terms splits the comma-separated search query into its trimmed, non-empty
// terms, preserving order.
func (s *Settings) Terms() []string {
	return SplitTerms(s.SearchQuery)
}

// Interval returns IntervalHours as a duration.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

// SplitTerms splits a comma-separated query list.
func SplitTerms(query string) []string {
	var terms []string
	for _, part := range strings.Split(query, ",") {
		if t := strings.TrimSpace(part); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// SettingsUpdate is a partial update; nil fields are left untouched.
type SettingsUpdate struct {
	SearchQuery   *string `json:"search_query,omitempty"`
	Location      *string `json:"location,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
	IntervalHours *int    `json:"interval_hours,omitempty"`
}

// TouchesSchedule reports whether the update changes anything the scheduler
// cares about.
func (u SettingsUpdate) TouchesSchedule() bool {
	return u.Enabled != nil || u.IntervalHours != nil
}

// Apply copies the set fields of u onto s.
func (u SettingsUpdate) Apply(s *Settings) {
	if u.SearchQuery != nil {
		s.SearchQuery = *u.SearchQuery
	}
	if u.Location != nil {
		s.Location = *u.Location
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.IntervalHours != nil {
		s.IntervalHours = *u.IntervalHours
	}
}
