package model

import "time"

// LinkStats aggregates the appearances of one URL over a period.
type LinkStats struct {
	URL              string    `json:"url" yaml:"url"`
	Domain           string    `json:"domain" yaml:"domain"`
	Title            string    `json:"title" yaml:"title"`
	TotalAppearances int       `json:"total_appearances" yaml:"total_appearances"`
	DaysActive       int       `json:"days_active" yaml:"days_active"`
	FirstSeen        time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen         time.Time `json:"last_seen" yaml:"last_seen"`
	AveragePosition  float64   `json:"average_position" yaml:"average_position"`
	Positions        []int     `json:"positions" yaml:"positions"`
}

// Digest is the daily summary handed to notification sinks.
type Digest struct {
	TenantID      string      `json:"tenant_id" yaml:"tenant_id"`
	Date          string      `json:"date" yaml:"date"`
	TotalSearches int         `json:"total_searches" yaml:"total_searches"`
	UniqueLinks   int         `json:"unique_links" yaml:"unique_links"`
	TopLinks      []LinkStats `json:"top_links" yaml:"top_links"`
}
