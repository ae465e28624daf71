// Package model defines the records sitesync synchronizes and the
// server-side checks their payloads must pass.
package model

import (
	"time"

	"github.com/jonwraymond/sitesync/envelope"
)

// Collection names, as they appear in URLs and cache keys.
const (
	Projects  = "projects"
	WorkItems = "work-items"
	DailyLogs = "daily-logs"
)

// Record is implemented by every synchronized record type.
type Record interface {
	GetID() string
	GetCreatedAt() time.Time

	// Scope is the project the record belongs to; a project is its own
	// scope.
	Scope() string

	// StatusValue is the field stats are grouped by.
	StatusValue() string

	// Validate reports field problems; an empty result means valid.
	Validate() envelope.FieldErrors
}

// Stamper is implemented by pointers to records so a store can assign
// server-owned fields.
type Stamper interface {
	SetID(id string)
	SetTimestamps(created, updated time.Time)
}

// Stats is the aggregate served for a collection.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// Kind describes one collection to generic code.
type Kind struct {
	Name string

	// New allocates an empty record.
	New func() Record

	// Statuses lists accepted status values; empty accepts any.
	Statuses []string
}

var kinds = map[string]Kind{
	Projects:  {Name: Projects, New: func() Record { return &Project{} }, Statuses: ProjectStatuses},
	WorkItems: {Name: WorkItems, New: func() Record { return &WorkItem{} }, Statuses: WorkItemStatuses},
	DailyLogs: {Name: DailyLogs, New: func() Record { return &DailyLog{} }},
}

// Lookup returns the Kind named collection.
func Lookup(collection string) (Kind, bool) {
	k, ok := kinds[collection]
	return k, ok
}

// Collections returns every collection name.
func Collections() []string {
	return []string{Projects, WorkItems, DailyLogs}
}
