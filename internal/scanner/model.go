package scanner

import "time"

// ScanResult summarizes the outcome of a library scan.
type ScanResult struct {
	ID          string     `json:"id"`
	Root        string     `json:"root"`
	Status      string     `json:"status"` // "running", "completed", "failed"
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Entries     int        `json:"entries"`
	Bundles     int        `json:"bundles"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
}
