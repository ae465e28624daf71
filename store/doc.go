// Package store persists sitesync records.
//
// Repository is the persistence boundary the API server calls. SQLite is
// the bundled implementation: one table holds every collection, each
// record kept as a JSON document next to the columns lists and stats
// filter on.
package store
