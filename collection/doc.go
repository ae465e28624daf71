// Package collection keeps a client-side view of one remote collection
// consistent across concurrent fetches and optimistic mutations.
//
// A Collection applies creates, updates and deletes to its visible items
// immediately, then reconciles them with the server's answer or rolls
// them back exactly. Each mutation is tracked as a PendingMutation that is
// settled once, by Commit or Rollback. A newer fetch supersedes an older
// one: the older request's context is cancelled and its result, should it
// still arrive, is never applied.
//
// List pages and aggregate stats are cached in cache.TTLCache namespaces
// with independent TTLs. A cache hit populates state without calling the
// Transport.
package collection
