package collection

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
)

// TempIDPrefix marks ids assigned locally to records awaiting creation.
// Server ids never carry it.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id was assigned locally.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

func newTempID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return TempIDPrefix + id.String(), nil
}

// Create shows data at the top of the list under a temporary id and sends
// it to the server. On success the temporary record is replaced by the
// server's, the collection's cache is invalidated and page 1 is fetched
// again. On failure the list is restored and the error returned.
func (c *Collection[T]) Create(ctx context.Context, data T) (T, error) {
	var zero T
	tmpID, err := newTempID()
	if err != nil {
		return zero, errors.Wrap(err, errors.CodeInternal, "generate temporary id")
	}
	rec, err := model.Apply(data, nil, c.fresh)
	if err != nil {
		return zero, errors.Wrap(err, errors.CodeInvalidInput, "copy record")
	}
	now := c.opts.now().UTC()
	rec.SetID(tmpID)
	rec.SetTimestamps(now, now)

	m := &PendingMutation[T]{Kind: MutationCreate, LocalID: tmpID, Optimistic: rec}
	if err := c.begin(m); err != nil {
		return zero, err
	}

	env, err := c.tr.Do(ctx, http.MethodPost, c.path(""), data)
	var server T
	if err == nil {
		server = c.fresh()
		err = env.Decode(server)
	}
	if err != nil {
		c.rollback(ctx, m, err)
		return zero, err
	}

	c.commit(m, server)

	c.mu.Lock()
	filters := c.state.Filters
	c.mu.Unlock()
	if _, ferr := c.Fetch(ctx, 1, filters); ferr != nil {
		c.opts.log.Warn(ctx, "refetch after create failed", observe.Field{Key: "error", Value: ferr.Error()})
	}
	return server, nil
}

// Update merge-patches the visible record with id and sends the patch to
// the server. On success the server's record replaces it; on failure the
// record is restored field for field.
func (c *Collection[T]) Update(ctx context.Context, id string, patch model.Patch) (T, error) {
	var zero T
	c.mu.Lock()
	current, ok := c.findLocked(id)
	c.mu.Unlock()
	if !ok {
		return zero, errors.WithContext(errors.Newf(errors.CodeNotFound, "%s record %s is not loaded", c.name, id), "id", id)
	}
	if IsTempID(id) {
		return zero, errors.Newf(errors.CodeConflict, "%s record %s is still being created", c.name, id)
	}

	patched, err := model.Apply(current, patch, c.fresh)
	if err != nil {
		return zero, errors.Wrap(err, errors.CodeInvalidInput, "apply patch")
	}
	patched.SetID(id)

	m := &PendingMutation[T]{Kind: MutationUpdate, LocalID: id, Snapshot: current, Optimistic: patched}
	if err := c.begin(m); err != nil {
		return zero, err
	}

	env, err := c.tr.Do(ctx, http.MethodPatch, c.path(id), patch)
	var server T
	if err == nil {
		server = c.fresh()
		err = env.Decode(server)
	}
	if err != nil {
		c.rollback(ctx, m, err)
		return zero, err
	}
	c.commit(m, server)
	return server, nil
}

// Delete removes the record with id from the list and asks the server to
// delete it. On failure the record is re-inserted in creation order.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	current, ok := c.findLocked(id)
	c.mu.Unlock()
	if !ok {
		return errors.WithContext(errors.Newf(errors.CodeNotFound, "%s record %s is not loaded", c.name, id), "id", id)
	}
	if IsTempID(id) {
		return errors.Newf(errors.CodeConflict, "%s record %s is still being created", c.name, id)
	}

	m := &PendingMutation[T]{Kind: MutationDelete, LocalID: id, Snapshot: current}
	if err := c.begin(m); err != nil {
		return err
	}

	if _, err := c.tr.Do(ctx, http.MethodDelete, c.path(id), nil); err != nil {
		c.rollback(ctx, m, err)
		return err
	}
	var zero T
	c.commit(m, zero)
	return nil
}

// begin registers m and shows its optimistic change.
func (c *Collection[T]) begin(m *PendingMutation[T]) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	m.seq = c.seq
	c.pending[m.seq] = m
	c.state.Items = m.Apply(c.state.Items)
	deliver := c.commitLocked()
	c.mu.Unlock()
	deliver()
	return nil
}

// commit settles m with the server's record and invalidates the cache
// before returning.
func (c *Collection[T]) commit(m *PendingMutation[T], server T) {
	c.invalidate()

	c.mu.Lock()
	delete(c.pending, m.seq)
	if items, err := m.Commit(c.state.Items, server); err == nil {
		c.state.Items = items
	}
	deliver := c.commitLocked()
	c.mu.Unlock()
	deliver()
}

func (c *Collection[T]) rollback(ctx context.Context, m *PendingMutation[T], cause error) {
	c.mu.Lock()
	delete(c.pending, m.seq)
	if items, err := m.Rollback(c.state.Items); err == nil {
		c.state.Items = items
	}
	deliver := c.commitLocked()
	c.mu.Unlock()
	deliver()

	c.opts.log.Warn(ctx, "mutation rolled back",
		observe.Field{Key: "kind", Value: m.Kind.String()},
		observe.Field{Key: "id", Value: m.LocalID},
		observe.Field{Key: "code", Value: string(errors.GetCode(cause))})
}

func (c *Collection[T]) findLocked(id string) (T, bool) {
	for _, it := range c.state.Items {
		if it.GetID() == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// dedupe keeps the first record for every id.
func dedupe[T Record](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.GetID()]; dup {
			continue
		}
		seen[it.GetID()] = struct{}{}
		out = append(out, it)
	}
	return out
}
