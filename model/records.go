package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonwraymond/sitesync/envelope"
)

// dateLayout is the calendar date format used by date-only fields.
const dateLayout = "2006-01-02"

// Project status values.
var ProjectStatuses = []string{"planning", "active", "on_hold", "completed"}

// WorkItem status values.
var WorkItemStatuses = []string{"todo", "in_progress", "done", "blocked"}

// WorkItem priorities.
var WorkItemPriorities = []string{"low", "medium", "high", "critical"}

// Project is a construction project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	Status    string    `json:"status,omitempty"`
	Location  string    `json:"location,omitempty"`
	StartDate string    `json:"startDate,omitempty"`
	EndDate   string    `json:"endDate,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Project) GetID() string           { return p.ID }
func (p *Project) GetCreatedAt() time.Time { return p.CreatedAt }
func (p *Project) Scope() string           { return p.ID }
func (p *Project) StatusValue() string     { return p.Status }
func (p *Project) SetID(id string)         { p.ID = id }
func (p *Project) SetTimestamps(c, u time.Time) {
	p.CreatedAt, p.UpdatedAt = c, u
}

// Validate implements Record.
func (p *Project) Validate() envelope.FieldErrors {
	fe := envelope.FieldErrors{}
	required(fe, "name", p.Name)
	oneOf(fe, "status", p.Status, ProjectStatuses)
	date(fe, "startDate", p.StartDate)
	date(fe, "endDate", p.EndDate)
	if p.StartDate != "" && p.EndDate != "" && p.EndDate < p.StartDate {
		fe.Add("endDate", "must not precede startDate")
	}
	return fe
}

// WorkItem is a task within a project.
type WorkItem struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (w *WorkItem) GetID() string           { return w.ID }
func (w *WorkItem) GetCreatedAt() time.Time { return w.CreatedAt }
func (w *WorkItem) Scope() string           { return w.ProjectID }
func (w *WorkItem) StatusValue() string     { return w.Status }
func (w *WorkItem) SetID(id string)         { w.ID = id }
func (w *WorkItem) SetTimestamps(c, u time.Time) {
	w.CreatedAt, w.UpdatedAt = c, u
}

// Validate implements Record.
func (w *WorkItem) Validate() envelope.FieldErrors {
	fe := envelope.FieldErrors{}
	required(fe, "projectId", w.ProjectID)
	required(fe, "title", w.Title)
	oneOf(fe, "status", w.Status, WorkItemStatuses)
	oneOf(fe, "priority", w.Priority, WorkItemPriorities)
	date(fe, "dueDate", w.DueDate)
	return fe
}

// Photo is metadata for an image attached to a daily log. The image
// itself lives at URL.
type Photo struct {
	ID      string    `json:"id"`
	URL     string    `json:"url"`
	Caption string    `json:"caption,omitempty"`
	TakenAt time.Time `json:"takenAt,omitzero"`
}

// Validate reports field problems with the photo.
func (p *Photo) Validate() envelope.FieldErrors {
	fe := envelope.FieldErrors{}
	required(fe, "url", p.URL)
	if p.URL != "" && !strings.Contains(p.URL, "://") && !strings.HasPrefix(p.URL, "/") {
		fe.Add("url", "must be absolute")
	}
	return fe
}

// DailyLog is one day's site report.
type DailyLog struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Date      string    `json:"date"`
	Weather   string    `json:"weather,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CrewCount int       `json:"crewCount"`
	Photos    []Photo   `json:"photos,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (d *DailyLog) GetID() string           { return d.ID }
func (d *DailyLog) GetCreatedAt() time.Time { return d.CreatedAt }
func (d *DailyLog) Scope() string           { return d.ProjectID }
func (d *DailyLog) StatusValue() string     { return d.Weather }
func (d *DailyLog) SetID(id string)         { d.ID = id }
func (d *DailyLog) SetTimestamps(c, u time.Time) {
	d.CreatedAt, d.UpdatedAt = c, u
}

// Validate implements Record.
func (d *DailyLog) Validate() envelope.FieldErrors {
	fe := envelope.FieldErrors{}
	required(fe, "projectId", d.ProjectID)
	required(fe, "date", d.Date)
	date(fe, "date", d.Date)
	if d.CrewCount < 0 {
		fe.Add("crewCount", "must be >= 0")
	}
	for i := range d.Photos {
		for field, msg := range d.Photos[i].Validate() {
			fe.Add(fmt.Sprintf("photos.%d.%s", i, field), "%s", msg)
		}
	}
	return fe
}

func required(fe envelope.FieldErrors, field, v string) {
	if strings.TrimSpace(v) == "" {
		fe.Add(field, "is required")
	}
}

func oneOf(fe envelope.FieldErrors, field, v string, allowed []string) {
	if v != "" && !slices.Contains(allowed, v) {
		fe.Add(field, "must be one of %s", strings.Join(allowed, ", "))
	}
}

func date(fe envelope.FieldErrors, field, v string) {
	if v == "" {
		return
	}
	if _, err := time.Parse(dateLayout, v); err != nil {
		fe.Add(field, "must be a YYYY-MM-DD date")
	}
}

var (
	_ Record  = (*Project)(nil)
	_ Record  = (*WorkItem)(nil)
	_ Record  = (*DailyLog)(nil)
	_ Stamper = (*Project)(nil)
	_ Stamper = (*WorkItem)(nil)
	_ Stamper = (*DailyLog)(nil)
)
