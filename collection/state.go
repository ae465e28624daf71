package collection

import (
	"maps"
	"slices"

	"github.com/jonwraymond/sitesync/envelope"
	"github.com/jonwraymond/sitesync/model"
)

// Status is the fetch state of a collection.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome reports what a fetch did to the visible state.
type Outcome int

const (
	// Applied means a transport response replaced the visible items.
	Applied Outcome = iota
	// CacheHit means a cached page replaced the visible items without a
	// request.
	CacheHit
	// Ignored means the fetch was superseded or cancelled and changed
	// nothing.
	Ignored
	// Failed means the request failed; the error is in State.Err and the
	// previous items remain visible.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case CacheHit:
		return "cache_hit"
	case Ignored:
		return "ignored"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of a collection. Snapshots share records with the
// collection; records are never modified after they become visible.
type State[T any] struct {
	Items      []T
	Stats      *model.Stats
	Status     Status
	Err        error
	Pagination envelope.Pagination
	Filters    map[string]string

	// Pending is the number of unsettled mutations.
	Pending int
}

// Loading reports whether a fetch is in flight.
func (s State[T]) Loading() bool { return s.Status == StatusLoading }

func (s State[T]) clone() State[T] {
	s.Items = slices.Clone(s.Items)
	s.Filters = maps.Clone(s.Filters)
	if s.Stats != nil {
		st := *s.Stats
		st.ByStatus = maps.Clone(st.ByStatus)
		s.Stats = &st
	}
	return s
}

// settled is the status to restore when a fetch ends without applying.
// A status still marked loading belonged to a fetch that was superseded.
func settled(prev Status) Status {
	if prev == StatusLoading {
		return StatusIdle
	}
	return prev
}
