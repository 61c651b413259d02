package library

import (
	"slices"
	"time"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
)

// Status is the phase of a library State.
type Status int

const (
	// StatusLoading is the initial status, before any reload completed.
	StatusLoading Status = iota
	// StatusLoaded means the last reload listed the root successfully.
	StatusLoaded
	// StatusFailed means the last reload could not list the root.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the library. Records is set only
// when Status is StatusLoaded and Err only when it is StatusFailed.
type State struct {
	Status   Status
	Root     string
	Records  []bundle.Record
	Err      error
	LoadedAt time.Time
}

// Find returns the record whose name matches, if any.
func (s State) Find(name string) (bundle.Record, bool) {
	for _, r := range s.Records {
		if r.Name == name {
			return r, true
		}
	}
	return bundle.Record{}, false
}

func (s State) clone() State {
	s.Records = slices.Clone(s.Records)
	return s
}
