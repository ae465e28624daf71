package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	project_id TEXT    NOT NULL DEFAULT '',
	status     TEXT    NOT NULL DEFAULT '',
	data       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS records_by_scope ON records (collection, project_id, created_at DESC);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA temp_store = MEMORY",
}

// Option configures a SQLite store.
type Option func(*SQLite)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l observe.Logger) Option {
	return func(s *SQLite) { s.log = l }
}

// SQLite is a Repository on an embedded SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
	log observe.Logger
}

// Open opens or creates the database at path and applies the schema.
// The directory is created when missing.
func Open(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "create database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "open database")
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, now: time.Now, log: observe.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info(ctx, "database ready", observe.Field{Key: "path", Value: path})
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "connect to database")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "apply %q", p)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "apply schema")
	}
	return nil
}

// DB returns the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

// PingContext implements Repository.
func (s *SQLite) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Repository.
func (s *SQLite) Close() error { return s.db.Close() }

// List implements Repository.
func (s *SQLite) List(ctx context.Context, collection string, q ListQuery) (Page, error) {
	kind, err := lookupKind(collection)
	if err != nil {
		return Page{}, err
	}
	if q, err = q.Normalize(); err != nil {
		return Page{}, err
	}

	where, args := whereClause(collection, q.Filters)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&total); err != nil {
		return Page{}, errors.Wrapf(err, errors.CodeDatabase, "count %s", collection)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM records WHERE "+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return Page{}, errors.Wrapf(err, errors.CodeDatabase, "list %s", collection)
	}
	defer rows.Close()

	items := make([]model.Record, 0, q.Limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return Page{}, errors.Wrapf(err, errors.CodeDatabase, "scan %s", collection)
		}
		rec, err := decode(kind, data)
		if err != nil {
			return Page{}, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, errors.Wrapf(err, errors.CodeDatabase, "list %s", collection)
	}
	return Page{Items: items, Total: total}, nil
}

// whereClause builds the filter condition. projectId uses the indexed
// column; other fields compare the JSON document's text value.
func whereClause(collection string, filters map[string]string) (string, []any) {
	conds := []string{"collection = ?"}
	args := []any{collection}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == "projectId" {
			conds = append(conds, "project_id = ?")
			args = append(args, filters[k])
			continue
		}
		conds = append(conds, "CAST(json_extract(data, ?) AS TEXT) = ?")
		args = append(args, "$."+k, filters[k])
	}
	return strings.Join(conds, " AND "), args
}

// Get implements Repository.
func (s *SQLite) Get(ctx context.Context, collection, id string) (model.Record, error) {
	kind, err := lookupKind(collection)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, s.db, kind, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) get(ctx context.Context, q queryer, kind model.Kind, id string) (model.Record, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data FROM records WHERE collection = ? AND id = ?", kind.Name, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind.Name, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "get %s %s", kind.Name, id)
	}
	return decode(kind, data)
}

// Create implements Repository.
func (s *SQLite) Create(ctx context.Context, collection string, rec model.Record) (model.Record, error) {
	if _, err := lookupKind(collection); err != nil {
		return nil, err
	}
	stamper, ok := rec.(model.Stamper)
	if !ok {
		return nil, errors.Newf(errors.CodeInternal, "%T cannot be stamped", rec)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "generate id")
	}
	now := s.now().UTC()
	stamper.SetID(id.String())
	stamper.SetTimestamps(now, now)

	if err := rec.Validate().Err(); err != nil {
		return nil, err
	}
	if err := s.put(ctx, s.db, collection, rec, now, "INSERT"); err != nil {
		return nil, err
	}
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) put(ctx context.Context, x execer, collection string, rec model.Record, updated time.Time, verb string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode record")
	}

	query := verb + ` INTO records (collection, id, project_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = x.ExecContext(ctx, query,
		collection, rec.GetID(), rec.Scope(), rec.StatusValue(), string(data),
		rec.GetCreatedAt().UnixNano(), updated.UnixNano())
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "store %s %s", collection, rec.GetID())
	}
	return nil
}

// Update implements Repository.
func (s *SQLite) Update(ctx context.Context, collection, id string, patch model.Patch) (model.Record, model.Record, error) {
	kind, err := lookupKind(collection)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeDatabase, "begin update")
	}
	defer func() { _ = tx.Rollback() }()

	before, err := s.get(ctx, tx, kind, id)
	if err != nil {
		return nil, nil, err
	}
	after, err := model.Apply(before, patch, kind.New)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeInvalidInput, "apply patch")
	}

	// id and createdAt are server-owned.
	now := s.now().UTC()
	stamper := after.(model.Stamper)
	stamper.SetID(before.GetID())
	stamper.SetTimestamps(before.GetCreatedAt(), now)

	if err := after.Validate().Err(); err != nil {
		return nil, nil, err
	}
	if err := s.put(ctx, tx, collection, after, now, "REPLACE"); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeDatabase, "commit update")
	}
	return after, before, nil
}

// Delete implements Repository.
func (s *SQLite) Delete(ctx context.Context, collection, id string) (model.Record, error) {
	kind, err := lookupKind(collection)
	if err != nil {
		return nil, err
	}

	var data string
	err = s.db.QueryRowContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ? RETURNING data", collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "delete %s %s", collection, id)
	}
	return decode(kind, data)
}

// Stats implements Repository.
func (s *SQLite) Stats(ctx context.Context, collection, projectID string) (model.Stats, error) {
	if _, err := lookupKind(collection); err != nil {
		return model.Stats{}, err
	}

	query := "SELECT status, COUNT(*) FROM records WHERE collection = ?"
	args := []any{collection}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	rows, err := s.db.QueryContext(ctx, query+" GROUP BY status", args...)
	if err != nil {
		return model.Stats{}, errors.Wrapf(err, errors.CodeDatabase, "stats %s", collection)
	}
	defer rows.Close()

	st := model.Stats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.Stats{}, errors.Wrapf(err, errors.CodeDatabase, "stats %s", collection)
		}
		if status == "" {
			status = "unset"
		}
		st.ByStatus[status] += n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return model.Stats{}, errors.Wrapf(err, errors.CodeDatabase, "stats %s", collection)
	}
	return st, nil
}

// AddPhoto implements Repository.
func (s *SQLite) AddPhoto(ctx context.Context, logID string, photo model.Photo) (*model.DailyLog, error) {
	if err := photo.Validate().Err(); err != nil {
		return nil, err
	}
	kind, _ := model.Lookup(model.DailyLogs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "begin add photo")
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.get(ctx, tx, kind, logID)
	if err != nil {
		return nil, err
	}
	dl := rec.(*model.DailyLog)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "generate id")
	}
	now := s.now().UTC()
	photo.ID = id.String()
	if photo.TakenAt.IsZero() {
		photo.TakenAt = now
	}
	dl.Photos = append(dl.Photos, photo)
	dl.UpdatedAt = now

	if err := s.put(ctx, tx, model.DailyLogs, dl, now, "REPLACE"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "commit add photo")
	}
	return dl, nil
}

func decode(kind model.Kind, data string) (model.Record, error) {
	rec := kind.New()
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "decode %s record", kind.Name)
	}
	return rec, nil
}

var _ Repository = (*SQLite)(nil)
