package collection

import (
	"slices"

	"github.com/jonwraymond/sitesync/model"
)

// Record is a model record a Collection can stamp with ids and
// timestamps. Implemented by the model's record pointers.
type Record interface {
	model.Record
	model.Stamper
}

// MutationKind tags a PendingMutation.
type MutationKind int

const (
	MutationCreate MutationKind = iota
	MutationUpdate
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationCreate:
		return "create"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PendingMutation is an optimistic change awaiting the server's answer.
//
// Apply shows the change in a list. Exactly one of Commit or Rollback
// settles it; a second settle returns ErrSettled and leaves the list
// untouched. All three return a new slice and never modify their input.
type PendingMutation[T Record] struct {
	Kind MutationKind

	// LocalID is the temporary id of a create, or the id of the record an
	// update or delete targets.
	LocalID string

	// Snapshot is the record before an update or delete.
	Snapshot T

	// Optimistic is the record shown while pending: the temporary record
	// of a create, the patched record of an update.
	Optimistic T

	seq     uint64
	settled bool
}

// Settled reports whether Commit or Rollback has run.
func (m *PendingMutation[T]) Settled() bool { return m.settled }

// Apply returns items with the optimistic change shown.
func (m *PendingMutation[T]) Apply(items []T) []T {
	switch m.Kind {
	case MutationCreate:
		out := make([]T, 0, len(items)+1)
		out = append(out, m.Optimistic)
		for _, it := range items {
			if it.GetID() != m.LocalID {
				out = append(out, it)
			}
		}
		return out
	case MutationUpdate:
		return replaceByID(items, m.LocalID, m.Optimistic)
	case MutationDelete:
		return removeByID(items, m.LocalID)
	}
	return slices.Clone(items)
}

// Commit returns items with the optimistic change replaced by the
// server's record. For a create the temporary record is replaced by id,
// and any other entry already holding the server id is dropped.
func (m *PendingMutation[T]) Commit(items []T, server T) ([]T, error) {
	if m.settled {
		return items, ErrSettled
	}
	m.settled = true

	switch m.Kind {
	case MutationCreate:
		out := make([]T, 0, len(items))
		for _, it := range items {
			switch it.GetID() {
			case m.LocalID:
				out = append(out, server)
			case server.GetID():
			default:
				out = append(out, it)
			}
		}
		return out, nil
	case MutationUpdate:
		return replaceByID(items, m.LocalID, server), nil
	case MutationDelete:
		return removeByID(items, m.LocalID), nil
	}
	return slices.Clone(items), nil
}

// Rollback returns items as they would be had the mutation never been
// applied. A deleted record is re-inserted and the list re-sorted by
// creation time, newest first.
func (m *PendingMutation[T]) Rollback(items []T) ([]T, error) {
	if m.settled {
		return items, ErrSettled
	}
	m.settled = true

	switch m.Kind {
	case MutationCreate:
		return removeByID(items, m.LocalID), nil
	case MutationUpdate:
		return replaceByID(items, m.LocalID, m.Snapshot), nil
	case MutationDelete:
		out := removeByID(items, m.LocalID)
		out = append(out, m.Snapshot)
		slices.SortStableFunc(out, func(a, b T) int {
			return b.GetCreatedAt().Compare(a.GetCreatedAt())
		})
		return out, nil
	}
	return slices.Clone(items), nil
}

func replaceByID[T Record](items []T, id string, rec T) []T {
	out := slices.Clone(items)
	for i, it := range out {
		if it.GetID() == id {
			out[i] = rec
		}
	}
	return out
}

func removeByID[T Record](items []T, id string) []T {
	return slices.DeleteFunc(slices.Clone(items), func(it T) bool { return it.GetID() == id })
}
