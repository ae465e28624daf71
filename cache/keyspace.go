package cache

import (
	"regexp"
	"strings"
)

// Key kinds.
const (
	KindList   = "list"
	KindStats  = "stats"
	KindRecord = "record"
)

const (
	keySeparator = "|"
	scopeAll     = "all"
	scopeProject = "project="
)

// Keyspace builds cache keys and invalidation rules for collection reads.
//
// Key grammar:
//
//	<collection>|<scope>|<kind>|<digest-or-id>
//
// scope is "all" or "project=<id>". Collection names and project ids must
// not contain "|".
type Keyspace struct {
	keyer Keyer
}

// NewKeyspace creates a keyspace using the default keyer.
func NewKeyspace() *Keyspace {
	return &Keyspace{keyer: NewDefaultKeyer()}
}

// NewKeyspaceWithKeyer creates a keyspace using a custom keyer.
func NewKeyspaceWithKeyer(k Keyer) *Keyspace {
	if k == nil {
		k = NewDefaultKeyer()
	}
	return &Keyspace{keyer: k}
}

// listParams is the digest input for list keys. Field order is fixed, and
// filters is a map whose JSON encoding sorts keys.
type listParams struct {
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Filters map[string]string `json:"filters,omitempty"`
}

// ListKey returns the key for one page of a collection read.
func (k *Keyspace) ListKey(collection, projectID string, page, limit int, filters map[string]string) string {
	return k.key(collection, projectID, KindList, listParams{Page: page, Limit: limit, Filters: filters})
}

// StatsKey returns the key for an aggregate read.
func (k *Keyspace) StatsKey(collection, projectID string, filters map[string]string) string {
	return k.key(collection, projectID, KindStats, listParams{Filters: filters})
}

// RecordKey returns the key for a single-record read.
func (k *Keyspace) RecordKey(collection, id string) string {
	return strings.Join([]string{collection, scopeAll, KindRecord, id}, keySeparator)
}

func (k *Keyspace) key(collection, projectID, kind string, params listParams) string {
	scope := collection + keySeparator + scopeFor(projectID) + keySeparator + kind
	key, err := k.keyer.Key(scope, params)
	if err != nil {
		// listParams only holds ints and strings; encoding cannot fail
		// with the default keyer. Fall back to an unhashed key.
		return scope + keySeparator + "raw"
	}
	return key
}

func scopeFor(projectID string) string {
	if projectID == "" {
		return scopeAll
	}
	return scopeProject + projectID
}

// CollectionPrefix returns the prefix shared by every key of a collection.
func (k *Keyspace) CollectionPrefix(collection string) string {
	return collection + keySeparator
}

// ProjectPattern matches every key, in any collection, scoped to projectID.
func (k *Keyspace) ProjectPattern(projectID string) *regexp.Regexp {
	return regexp.MustCompile(`^[^|]+\|` + regexp.QuoteMeta(scopeProject+projectID) + `\|`)
}

// KindPattern matches every key of one kind within a collection.
func (k *Keyspace) KindPattern(collection, kind string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(collection) + `\|[^|]+\|` + regexp.QuoteMeta(kind) + `\|`)
}

// InvalidateCollection drops every cached read of a collection.
func (k *Keyspace) InvalidateCollection(inv Invalidator, collection string) int {
	if inv == nil {
		return 0
	}
	return inv.DeletePrefix(k.CollectionPrefix(collection))
}

// InvalidateProject drops every cached read scoped to a project.
func (k *Keyspace) InvalidateProject(inv Invalidator, projectID string) int {
	if inv == nil || projectID == "" {
		return 0
	}
	return inv.DeleteMatching(k.ProjectPattern(projectID))
}

// InvalidateRecord drops the cached single-record read.
func (k *Keyspace) InvalidateRecord(inv Invalidator, collection, id string) bool {
	if inv == nil {
		return false
	}
	return inv.Delete(k.RecordKey(collection, id))
}
