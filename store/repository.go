package store

import (
	"context"
	"regexp"

	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/model"
)

// MaxLimit caps the page size of a list.
const MaxLimit = 100

// DefaultLimit is the page size when none is given.
const DefaultLimit = 20

// ListQuery selects one page of a collection.
type ListQuery struct {
	Page  int
	Limit int

	// Filters are equality matches on top-level record fields.
	Filters map[string]string
}

var filterField = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Normalize clamps paging to valid bounds and rejects malformed filter
// names.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	for k := range q.Filters {
		if !filterField.MatchString(k) {
			return q, errors.WithContext(
				errors.Newf(errors.CodeInvalidInput, "invalid filter %q", k), "filter", k)
		}
	}
	return q, nil
}

// Page is one page of records and the size of the whole result.
type Page struct {
	Items []model.Record
	Total int
}

// Repository stores records by collection.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: NOT_FOUND for unknown ids, VALIDATION_ERROR for payloads
//   that fail Record.Validate, INVALID_INPUT for unknown collections or
//   bad filters, DATABASE_ERROR for storage faults.
// - Lists are ordered by creation time, newest first.
type Repository interface {
	List(ctx context.Context, collection string, q ListQuery) (Page, error)
	Get(ctx context.Context, collection, id string) (model.Record, error)

	// Create assigns the id and timestamps and stores rec.
	Create(ctx context.Context, collection string, rec model.Record) (model.Record, error)

	// Update merge-patches the stored record. It returns the record after
	// and before the change.
	Update(ctx context.Context, collection, id string, patch model.Patch) (after, before model.Record, err error)

	// Delete removes a record and returns what was removed.
	Delete(ctx context.Context, collection, id string) (model.Record, error)

	// Stats counts records, optionally only those scoped to projectID.
	Stats(ctx context.Context, collection, projectID string) (model.Stats, error)

	// AddPhoto appends photo metadata to a daily log.
	AddPhoto(ctx context.Context, logID string, photo model.Photo) (*model.DailyLog, error)

	PingContext(ctx context.Context) error
	Close() error
}

func lookupKind(collection string) (model.Kind, error) {
	k, ok := model.Lookup(collection)
	if !ok {
		return k, errors.WithContext(
			errors.Newf(errors.CodeInvalidInput, "unknown collection %q", collection), "collection", collection)
	}
	return k, nil
}

func notFound(collection, id string) error {
	return errors.WithContextMap(
		errors.Newf(errors.CodeNotFound, "%s record %s not found", collection, id),
		map[string]any{"collection": collection, "id": id})
}
