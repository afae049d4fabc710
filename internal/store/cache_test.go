package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeCollection is an in-memory Collection for cache tests. Documents
// are matched on exact field equality, which is all the cache needs.
type fakeCollection struct {
	docs      []map[string]any
	failWrite bool
	ttlField  string
	ttl       time.Duration
}

func (f *fakeCollection) FindOne(ctx context.Context, filter map[string]any) (map[string]any, error) {
	for _, doc := range f.docs {
		if matches(doc, filter) {
			return doc, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeCollection) Find(ctx context.Context, filter map[string]any, limit int64, sort string) ([]map[string]any, error) {
	var out []map[string]any
	for _, doc := range f.docs {
		if matches(doc, filter) {
			out = append(out, doc)
		}
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCollection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCollection) UpsertOne(ctx context.Context, filter map[string]any, doc map[string]any) error {
	if f.failWrite {
		return errors.New("write refused")
	}
	for i, existing := range f.docs {
		if matches(existing, filter) {
			f.docs[i] = doc
			return nil
		}
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeCollection) BulkUpsert(ctx context.Context, keyField string, docs []map[string]any) error {
	if f.failWrite {
		return errors.New("write refused")
	}
	for _, doc := range docs {
		_ = f.UpsertOne(ctx, map[string]any{keyField: doc[keyField]}, doc)
	}
	return nil
}

func (f *fakeCollection) UpdateOne(ctx context.Context, filter, update map[string]any) error {
	return nil
}

func (f *fakeCollection) Count(ctx context.Context, filter map[string]any) (int64, error) {
	return int64(len(f.docs)), nil
}

func (f *fakeCollection) EnsureTTLIndex(ctx context.Context, field string, ttl time.Duration) error {
	f.ttlField = field
	f.ttl = ttl
	return nil
}

func matches(doc, filter map[string]any) bool {
	for k, v := range filter {
		if doc[k] != v {
			return false
		}
	}
	return true
}

type fakeProvider struct {
	collections map[string]*fakeCollection
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{collections: map[string]*fakeCollection{}}
}

func (p *fakeProvider) Collection(name string) Collection {
	if c, ok := p.collections[name]; ok {
		return c
	}
	c := &fakeCollection{}
	p.collections[name] = c
	return c
}

func newTestCache(t *testing.T, now func() time.Time) (*Cache, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider()
	cache := NewCache(context.Background(), provider, nil, nil)
	if now != nil {
		cache.nowFunc = now
	}
	return cache, provider
}

func TestCache_TTLIndexesCreated(t *testing.T) {
	_, provider := newTestCache(t, nil)
	coll := provider.collections[string(KindProfile)]
	if coll.ttlField != cachedAtField {
		t.Errorf("ttl field = %q", coll.ttlField)
	}
	if coll.ttl != 24*time.Hour {
		t.Errorf("profile ttl = %v", coll.ttl)
	}
}

func TestCache_WriteStampsAndReadsBack(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cache, _ := newTestCache(t, func() time.Time { return now })

	cache.Write(context.Background(), KindProfile, "username", "x",
		map[string]any{"followersCount": 100})

	doc, ok := cache.Read(context.Background(), KindProfile, map[string]any{"username": "x"})
	if !ok {
		t.Fatal("fresh document should hit")
	}
	at, ok := CachedAt(doc)
	if !ok || !at.Equal(base) {
		t.Errorf("cachedAt = %v", at)
	}
}

func TestCache_FreshnessPredicate(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cache, _ := newTestCache(t, func() time.Time { return now })

	cache.Write(context.Background(), KindProfile, "username", "x", map[string]any{})

	// One minute inside the 24h window.
	now = base.Add(24*time.Hour - time.Minute)
	if _, ok := cache.Read(context.Background(), KindProfile, map[string]any{"username": "x"}); !ok {
		t.Error("document inside TTL should hit")
	}

	// The TTL index may not have deleted the row yet; the predicate
	// alone must turn it into a miss.
	now = base.Add(24 * time.Hour)
	if _, ok := cache.Read(context.Background(), KindProfile, map[string]any{"username": "x"}); ok {
		t.Error("expired document must be a miss even before physical deletion")
	}
}

func TestCache_WriteIsIdempotentOnKey(t *testing.T) {
	cache, provider := newTestCache(t, nil)

	cache.Write(context.Background(), KindProfile, "username", "x", map[string]any{"v": 1})
	cache.Write(context.Background(), KindProfile, "username", "x", map[string]any{"v": 2})

	coll := provider.collections[string(KindProfile)]
	if len(coll.docs) != 1 {
		t.Fatalf("docs = %d, want 1", len(coll.docs))
	}
	if coll.docs[0]["v"] != 2 {
		t.Errorf("second write should win: %v", coll.docs[0])
	}
}

func TestCache_WriteFailureDoesNotPropagate(t *testing.T) {
	cache, provider := newTestCache(t, nil)
	provider.collections[string(KindProfile)].failWrite = true

	// Must not panic or surface the error.
	cache.Write(context.Background(), KindProfile, "username", "x", map[string]any{})
}

func TestCache_ReadManyFiltersStale(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cache, provider := newTestCache(t, func() time.Time { return now })

	coll := provider.collections[string(KindPost)]
	coll.docs = []map[string]any{
		{"ownerUsername": "x", "shortCode": "old", cachedAtField: base.Add(-7 * time.Hour)},
		{"ownerUsername": "x", "shortCode": "new", cachedAtField: base.Add(-time.Hour)},
	}

	docs, ok := cache.ReadMany(context.Background(), KindPost, map[string]any{"ownerUsername": "x"}, 0)
	if !ok {
		t.Fatal("fresh doc present, expected hit")
	}
	if len(docs) != 1 || docs[0]["shortCode"] != "new" {
		t.Errorf("docs = %v", docs)
	}

	// All stale -> miss.
	now = base.Add(12 * time.Hour)
	if _, ok := cache.ReadMany(context.Background(), KindPost, map[string]any{"ownerUsername": "x"}, 0); ok {
		t.Error("all-stale result should miss")
	}
}

func TestCachedAt_Shapes(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if at, ok := CachedAt(map[string]any{"cachedAt": ts}); !ok || !at.Equal(ts) {
		t.Error("time.Time shape failed")
	}
	if at, ok := CachedAt(map[string]any{"cachedAt": ts.Format(time.RFC3339)}); !ok || !at.Equal(ts) {
		t.Error("RFC3339 string shape failed")
	}
	if _, ok := CachedAt(map[string]any{}); ok {
		t.Error("missing field should not parse")
	}
}
