package collection

import (
	"context"
	stderrors "errors"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jonwraymond/sitesync/cache"
	"github.com/jonwraymond/sitesync/envelope"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
)

// Defaults for Collection options.
const (
	DefaultLimit    = 20
	DefaultListTTL  = time.Minute
	DefaultStatsTTL = 5 * time.Minute
)

// Page is one cached list response.
type Page[T any] struct {
	Items      []T
	Pagination envelope.Pagination
}

type options struct {
	limit    int
	listTTL  time.Duration
	statsTTL time.Duration
	store    *cache.Store
	keyspace *cache.Keyspace
	now      func() time.Time
	log      observe.Logger
}

// Option configures a Collection.
type Option func(*options)

// WithLimit sets the page size.
func WithLimit(n int) Option { return func(o *options) { o.limit = n } }

// WithListTTL sets how long list pages stay cached.
func WithListTTL(d time.Duration) Option { return func(o *options) { o.listTTL = d } }

// WithStatsTTL sets how long aggregate stats stay cached.
func WithStatsTTL(d time.Duration) Option { return func(o *options) { o.statsTTL = d } }

// WithStore registers the collection's cache namespaces on a shared
// store. Without it the collection uses a private store.
func WithStore(s *cache.Store) Option { return func(o *options) { o.store = s } }

// WithClock replaces time.Now for optimistic timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the collection's logger.
func WithLogger(l observe.Logger) Option { return func(o *options) { o.log = l } }

// Collection coordinates one remote collection.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use. Transport calls
//     run without holding the collection lock.
//   - Ordering: a fetch supersedes every earlier fetch. Mutations are
//     independent and reconcile their own record by id.
//   - Cache: a mutation invalidates the collection's cached pages and
//     stats before it returns.
type Collection[T Record] struct {
	name  string
	tr    Transport
	fresh func() T
	opts  options

	lists   *cache.TTLCache[Page[T]]
	stats   *cache.TTLCache[model.Stats]
	statsRT *cache.ReadThrough[model.Stats]

	mu    sync.Mutex
	state State[T]
	gen   uint64
	// epoch advances on every cache invalidation. A fetch that began in
	// an earlier epoch may hold a pre-mutation page and is discarded.
	epoch     uint64
	version   uint64
	cancel    context.CancelFunc
	pending   map[uint64]*PendingMutation[T]
	seq       uint64
	listeners map[uint64]func(State[T])
	closed    bool

	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a coordinator for the named collection.
func New[T Record](name string, tr Transport, opts ...Option) (*Collection[T], error) {
	kind, ok := model.Lookup(name)
	if !ok {
		return nil, stderrors.New("collection: unknown collection " + strconv.Quote(name))
	}
	if _, ok := kind.New().(T); !ok {
		return nil, ErrKindMismatch
	}

	o := options{
		limit:    DefaultLimit,
		listTTL:  DefaultListTTL,
		statsTTL: DefaultStatsTTL,
		keyspace: cache.NewKeyspace(),
		now:      time.Now,
		log:      observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = cache.NewStore()
	}

	lists, err := cache.Register[Page[T]](o.store, "client."+name+".lists", cache.ListPolicy())
	if err != nil {
		return nil, err
	}
	stats, err := cache.Register[model.Stats](o.store, "client."+name+".stats", cache.StatsPolicy())
	if err != nil {
		return nil, err
	}

	c := &Collection[T]{
		name:    name,
		tr:      tr,
		fresh:   func() T { return kind.New().(T) },
		opts:    o,
		lists:   lists,
		stats:   stats,
		statsRT: cache.NewReadThrough[model.Stats](stats),
		state: State[T]{
			Items:      []T{},
			Pagination: envelope.Pagination{Page: 1, Limit: o.limit},
			Filters:    map[string]string{},
		},
		pending:   make(map[uint64]*PendingMutation[T]),
		listeners: make(map[uint64]func(State[T])),
	}
	c.statsRT.OnFault = func(key string, err error) {
		c.opts.log.Warn(context.Background(), "stats cache fault",
			observe.Field{Key: "key", Value: key}, observe.Field{Key: "error", Value: err.Error()})
	}
	c.opts.log = c.opts.log.With(observe.Field{Key: "collection", Value: name})
	return c, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// State returns a snapshot of the collection.
func (c *Collection[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collection[T]) snapshotLocked() State[T] {
	s := c.state.clone()
	s.Pending = len(c.pending)
	return s
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (c *Collection[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// commitLocked publishes the current state. It returns a function that
// delivers the snapshot; call it after releasing c.mu. A snapshot is
// dropped if a newer one was delivered first, so subscribers never move
// back to an older state.
func (c *Collection[T]) commitLocked() func() {
	c.version++
	if len(c.listeners) == 0 {
		return func() {}
	}
	version := c.version
	snap := c.snapshotLocked()
	fns := make([]func(State[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		if version <= c.delivered {
			return
		}
		c.delivered = version
		for _, fn := range fns {
			fn(snap)
		}
	}
}

// Close cancels any in-flight fetch and drops all subscribers. Pending
// mutations still settle, but no further operations are accepted.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	clear(c.listeners)
}

// Fetch loads one page with the given filters. A cached page is applied
// without a request. Otherwise any in-flight fetch is cancelled and the
// response is cached before it becomes visible.
func (c *Collection[T]) Fetch(ctx context.Context, page int, filters map[string]string) (Outcome, error) {
	if page < 1 {
		page = 1
	}
	filters = maps.Clone(filters)
	if filters == nil {
		filters = map[string]string{}
	}
	key := c.opts.keyspace.ListKey(c.name, filters["projectId"], page, c.opts.limit, filters)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Ignored, ErrClosed
	}
	c.gen++
	gen, epoch := c.gen, c.epoch
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if cached, ok := c.lists.Get(key); ok {
		c.applyPageLocked(cached, filters)
		deliver := c.commitLocked()
		c.mu.Unlock()
		deliver()
		return CacheHit, nil
	}

	fctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	prev := c.state.Status
	c.state.Status = StatusLoading
	deliver := c.commitLocked()
	c.mu.Unlock()
	deliver()

	result, err := c.request(fctx, page, filters)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.opts.log.Debug(ctx, "fetch superseded", observe.Field{Key: "page", Value: page})
		return Ignored, nil
	}
	c.cancel = nil

	if stderrors.Is(err, context.Canceled) {
		c.state.Status = prev
		deliver = c.commitLocked()
		c.mu.Unlock()
		deliver()
		return Ignored, nil
	}
	if err != nil {
		c.state.Status = StatusError
		c.state.Err = err
		deliver = c.commitLocked()
		c.mu.Unlock()
		deliver()
		c.opts.log.Warn(ctx, "fetch failed",
			observe.Field{Key: "page", Value: page}, observe.Field{Key: "error", Value: err.Error()})
		return Failed, err
	}

	if epoch != c.epoch {
		// A mutation committed while the request was in flight.
		c.state.Status = settled(prev)
		deliver = c.commitLocked()
		c.mu.Unlock()
		c.opts.log.Debug(ctx, "fetch outdated by mutation", observe.Field{Key: "page", Value: page})
		deliver()
		return Ignored, nil
	}

	c.lists.Set(key, result, c.opts.listTTL)
	c.applyPageLocked(result, filters)
	deliver = c.commitLocked()
	c.mu.Unlock()
	deliver()
	return Applied, nil
}

func (c *Collection[T]) request(ctx context.Context, page int, filters map[string]string) (Page[T], error) {
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.opts.limit))

	env, err := c.tr.Do(ctx, http.MethodGet, c.path("")+"?"+q.Encode(), nil)
	if err != nil {
		return Page[T]{}, err
	}
	var items []T
	if err := env.Decode(&items); err != nil {
		return Page[T]{}, err
	}
	p := Page[T]{Items: items}
	if env.Pagination != nil {
		p.Pagination = *env.Pagination
	} else {
		p.Pagination = *envelope.NewPagination(page, c.opts.limit, len(items))
	}
	return p, nil
}

// applyPageLocked makes a fetched page visible, with pending mutations
// laid over it.
func (c *Collection[T]) applyPageLocked(p Page[T], filters map[string]string) {
	c.state.Items = c.reconcileLocked(p.Items)
	c.state.Pagination = p.Pagination
	c.state.Filters = filters
	c.state.Status = StatusSuccess
	c.state.Err = nil
}

// reconcileLocked re-applies every unsettled mutation, in dispatch order,
// to items fetched from the server.
func (c *Collection[T]) reconcileLocked(items []T) []T {
	out := dedupe(items)
	if len(c.pending) == 0 {
		return out
	}
	seqs := make([]uint64, 0, len(c.pending))
	for seq := range c.pending {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	for _, seq := range seqs {
		out = c.pending[seq].Apply(out)
	}
	return out
}

// ApplyFilters replaces the filters and fetches page 1.
func (c *Collection[T]) ApplyFilters(ctx context.Context, filters map[string]string) (Outcome, error) {
	return c.Fetch(ctx, 1, filters)
}

// ChangePage fetches another page with the current filters.
func (c *Collection[T]) ChangePage(ctx context.Context, page int) (Outcome, error) {
	c.mu.Lock()
	filters := maps.Clone(c.state.Filters)
	c.mu.Unlock()
	return c.Fetch(ctx, page, filters)
}

// Refresh fetches the current page again. A fresh cached page is served
// without a request.
func (c *Collection[T]) Refresh(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	page, filters := c.state.Pagination.Page, maps.Clone(c.state.Filters)
	c.mu.Unlock()
	return c.Fetch(ctx, page, filters)
}

// FetchStats loads aggregate counts for the collection, scoped to the
// projectId filter when one is set. Stats are cached separately from
// pages, with their own TTL.
func (c *Collection[T]) FetchStats(ctx context.Context) (model.Stats, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Stats{}, ErrClosed
	}
	projectID := c.state.Filters["projectId"]
	epoch := c.epoch
	c.mu.Unlock()

	key := c.opts.keyspace.StatsKey(c.name, projectID, nil)
	st, _, err := c.statsRT.Get(ctx, key, func(ctx context.Context) (model.Stats, error) {
		path := c.path("stats")
		if projectID != "" {
			path += "?" + url.Values{"projectId": {projectID}}.Encode()
		}
		env, err := c.tr.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return model.Stats{}, err
		}
		var st model.Stats
		if err := env.Decode(&st); err != nil {
			return model.Stats{}, err
		}
		return st, nil
	}, c.opts.statsTTL)
	if err != nil {
		return model.Stats{}, err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return st, nil
	}
	c.state.Stats = &st
	deliver := c.commitLocked()
	c.mu.Unlock()
	deliver()
	return st, nil
}

// invalidate drops every cached page and stat of the collection. The
// epoch moves first, so a fetch still in flight can neither cache nor
// show what it read before the mutation.
func (c *Collection[T]) invalidate() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	c.statsRT.Invalidate()

	c.opts.keyspace.InvalidateCollection(c.lists, c.name)
	c.opts.keyspace.InvalidateCollection(c.stats, c.name)
}

func (c *Collection[T]) path(suffix string) string {
	p := "/api/" + c.name
	if suffix != "" {
		p += "/" + url.PathEscape(suffix)
	}
	return p
}
