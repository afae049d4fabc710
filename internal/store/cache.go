package store

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
)

// Kind names a cache collection. Each kind has its own TTL; the same
// TTL backs both the read-side freshness predicate and the server-side
// TTL index.
type Kind string

const (
	KindProfile     Kind = "profiles"
	KindPost        Kind = "posts"
	KindReel        Kind = "reels"
	KindHashtagPost Kind = "hashtag_posts"
	KindHashtagMeta Kind = "hashtag_meta"
	KindSnapshot    Kind = "post_snapshots"
)

// cachedAtField is the timestamp every cached document carries.
const cachedAtField = "cachedAt"

// TTLs maps kinds to their freshness windows. Values are parameters,
// not invariants.
var TTLs = map[Kind]time.Duration{
	KindProfile:     24 * time.Hour,
	KindPost:        6 * time.Hour,
	KindReel:        6 * time.Hour,
	KindHashtagPost: 12 * time.Hour,
	KindHashtagMeta: 12 * time.Hour,
	KindSnapshot:    180 * 24 * time.Hour,
}

// Cache is a fingerprint-keyed read-through over the document store.
//
// Reads return a document only while it satisfies the freshness
// predicate now - cachedAt < TTL(kind); the TTL index handles physical
// deletion eventually, so a read can see an expired-but-not-yet-deleted
// document and must still report a miss. Writes are idempotent upserts;
// concurrent misses may duplicate upstream work, which is tolerated.
type Cache struct {
	collections map[Kind]Collection
	metrics     *observability.Metrics
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// Provider hands out collections by name (implemented by *Mongo).
type Provider interface {
	Collection(name string) Collection
}

// NewCache binds one collection per kind and creates the TTL indexes.
// Index creation failures are logged, not fatal: the freshness
// predicate alone keeps reads correct.
func NewCache(ctx context.Context, provider Provider, metrics *observability.Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		collections: make(map[Kind]Collection, len(TTLs)),
		metrics:     metrics,
		logger:      logger.With("component", "cache"),
		nowFunc:     time.Now,
	}
	for kind, ttl := range TTLs {
		coll := provider.Collection(string(kind))
		c.collections[kind] = coll
		if err := coll.EnsureTTLIndex(ctx, cachedAtField, ttl); err != nil {
			c.logger.Warn("ttl index creation failed", "kind", kind, "error", err)
		}
	}
	return c
}

// Collection exposes the underlying collection of a kind for
// aggregation queries that bypass the freshness predicate.
func (c *Cache) Collection(kind Kind) Collection {
	return c.collections[kind]
}

// Read returns the freshest document matching filter, or ok=false on a
// miss. A stored document older than the kind's TTL is a miss even if
// the TTL index has not deleted it yet.
func (c *Cache) Read(ctx context.Context, kind Kind, filter map[string]any) (map[string]any, bool) {
	coll, ok := c.collections[kind]
	if !ok {
		return nil, false
	}
	doc, err := coll.FindOne(ctx, filter)
	if err != nil {
		if err != ErrNotFound {
			c.logger.Warn("cache read failed", "kind", kind, "error", err)
		}
		c.observe(kind, "miss")
		return nil, false
	}
	at, ok := CachedAt(doc)
	if !ok || c.nowFunc().Sub(at) >= TTLs[kind] {
		c.observe(kind, "miss")
		return nil, false
	}
	c.observe(kind, "hit")
	return doc, true
}

// ReadMany returns all fresh documents matching filter.
func (c *Cache) ReadMany(ctx context.Context, kind Kind, filter map[string]any, limit int64) ([]map[string]any, bool) {
	coll, ok := c.collections[kind]
	if !ok {
		return nil, false
	}
	docs, err := coll.Find(ctx, filter, limit, "-"+cachedAtField)
	if err != nil {
		c.logger.Warn("cache read failed", "kind", kind, "error", err)
		c.observe(kind, "miss")
		return nil, false
	}
	now := c.nowFunc()
	fresh := docs[:0]
	for _, doc := range docs {
		if at, ok := CachedAt(doc); ok && now.Sub(at) < TTLs[kind] {
			fresh = append(fresh, doc)
		}
	}
	if len(fresh) == 0 {
		c.observe(kind, "miss")
		return nil, false
	}
	c.observe(kind, "hit")
	return fresh, true
}

// Write upserts doc under key, stamping cachedAt with the current time.
// Best effort: failures are logged and swallowed so a broken cache
// never fails the caller.
func (c *Cache) Write(ctx context.Context, kind Kind, keyField string, key any, doc map[string]any) {
	coll, ok := c.collections[kind]
	if !ok {
		return
	}
	doc[keyField] = key
	doc[cachedAtField] = c.nowFunc()
	if err := coll.UpsertOne(ctx, map[string]any{keyField: key}, doc); err != nil {
		c.logger.Warn("cache write failed", "kind", kind, "error", err)
	}
}

// WriteMany bulk-upserts docs keyed by keyField, stamping each with
// cachedAt. Best effort like Write.
func (c *Cache) WriteMany(ctx context.Context, kind Kind, keyField string, docs []map[string]any) {
	coll, ok := c.collections[kind]
	if !ok || len(docs) == 0 {
		return
	}
	now := c.nowFunc()
	for _, doc := range docs {
		doc[cachedAtField] = now
	}
	if err := coll.BulkUpsert(ctx, keyField, docs); err != nil {
		c.logger.Warn("cache bulk write failed", "kind", kind, "error", err)
	}
}

func (c *Cache) observe(kind Kind, outcome string) {
	if c.metrics != nil {
		c.metrics.CacheReads.WithLabelValues(string(kind), outcome).Inc()
	}
}

// CachedAt extracts the cache timestamp from a stored document,
// tolerating the shapes it takes after a round trip through the driver.
func CachedAt(doc map[string]any) (time.Time, bool) {
	switch v := doc[cachedAtField].(type) {
	case time.Time:
		return v, true
	case bson.DateTime:
		return v.Time(), true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
