package api

import (
	"context"
	"fmt"

	"github.com/jonwraymond/sitesync/cache"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
)

// Cache namespace prefixes.
const (
	namespacePrefix = "api."
	statsNamespace  = namespacePrefix + "stats"
)

// responseCache holds encoded success envelopes: one namespace per
// collection for lists and records, and one shared namespace for stats.
type responseCache struct {
	keys  *cache.Keyspace
	reads map[string]*cache.ReadThrough[[]byte]
	nss   map[string]*cache.TTLCache[[]byte]
	stats *cache.ReadThrough[[]byte]
	statC *cache.TTLCache[[]byte]
}

func newResponseCache(s *cache.Store, log observe.Logger) (*responseCache, error) {
	rc := &responseCache{
		keys:  cache.NewKeyspace(),
		reads: make(map[string]*cache.ReadThrough[[]byte]),
		nss:   make(map[string]*cache.TTLCache[[]byte]),
	}
	onFault := func(key string, err error) {
		log.Warn(context.Background(), "response cache fault",
			observe.Field{Key: "key", Value: key}, observe.Field{Key: "error", Value: err.Error()})
	}

	for _, name := range model.Collections() {
		c, err := cache.Register[[]byte](s, namespacePrefix+name, cache.ListPolicy())
		if err != nil {
			return nil, fmt.Errorf("api: register cache namespace %s: %w", name, err)
		}
		rt := cache.NewReadThrough[[]byte](c)
		rt.OnFault = onFault
		rc.nss[name] = c
		rc.reads[name] = rt
	}

	c, err := cache.Register[[]byte](s, statsNamespace, cache.StatsPolicy())
	if err != nil {
		return nil, fmt.Errorf("api: register stats cache namespace: %w", err)
	}
	rc.statC = c
	rc.stats = cache.NewReadThrough[[]byte](c)
	rc.stats.OnFault = onFault
	return rc, nil
}

// invalidate drops what a mutation of collection made stale: every read
// of the collection, the record itself, and every read scoped to the
// given projects in any namespace.
func (rc *responseCache) invalidate(collection, id string, projects ...string) {
	spaces := make([]*cache.TTLCache[[]byte], 0, len(rc.nss)+1)
	for _, c := range rc.nss {
		spaces = append(spaces, c)
	}
	spaces = append(spaces, rc.statC)

	for _, rt := range rc.reads {
		rt.Invalidate()
	}
	rc.stats.Invalidate()

	rc.keys.InvalidateCollection(rc.nss[collection], collection)
	rc.keys.InvalidateCollection(rc.statC, collection)
	if id != "" {
		rc.keys.InvalidateRecord(rc.nss[collection], collection, id)
	}
	for _, p := range projects {
		for _, c := range spaces {
			rc.keys.InvalidateProject(c, p)
		}
	}
}
