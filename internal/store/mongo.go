// Package store provides the document store adapter and the
// cache-first read-through built on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: document not found")

// Collection is the narrow surface the cache and the tools consume.
// The Mongo adapter implements it; tests substitute fakes.
type Collection interface {
	// FindOne returns the first document matching filter, or ErrNotFound.
	FindOne(ctx context.Context, filter map[string]any) (map[string]any, error)

	// Find returns up to limit documents matching filter, sorted by
	// the given field (descending when it starts with "-"). A zero
	// limit means no cap; an empty sort means natural order.
	Find(ctx context.Context, filter map[string]any, limit int64, sort string) ([]map[string]any, error)

	// Aggregate runs a pipeline and collects all results.
	Aggregate(ctx context.Context, pipeline []map[string]any) ([]map[string]any, error)

	// UpsertOne replaces the document matching filter, inserting when
	// absent.
	UpsertOne(ctx context.Context, filter map[string]any, doc map[string]any) error

	// BulkUpsert replaces each document keyed by its keyField value,
	// inserting the missing ones, in one round trip.
	BulkUpsert(ctx context.Context, keyField string, docs []map[string]any) error

	// UpdateOne applies an update document to the first match.
	UpdateOne(ctx context.Context, filter map[string]any, update map[string]any) error

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter map[string]any) (int64, error)

	// EnsureTTLIndex creates (idempotently) a TTL index on a time
	// field so expired documents are eventually deleted server-side.
	EnsureTTLIndex(ctx context.Context, field string, ttl time.Duration) error
}

// Mongo wraps a database handle and hands out typed collections.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client and verifies the connection.
func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Ping reports store reachability for health checks.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close tears down the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Collection returns the adapter for a named collection.
func (m *Mongo) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) FindOne(ctx context.Context, filter map[string]any) (map[string]any, error) {
	var doc map[string]any
	err := c.coll.FindOne(ctx, toBson(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCollection) Find(ctx context.Context, filter map[string]any, limit int64, sort string) ([]map[string]any, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if sort != "" {
		field, dir := sort, 1
		if sort[0] == '-' {
			field, dir = sort[1:], -1
		}
		opts.SetSort(bson.D{{Key: field, Value: dir}})
	}
	cursor, err := c.coll.Find(ctx, toBson(filter), opts)
	if err != nil {
		return nil, err
	}
	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]map[string]any, error) {
	stages := make(mongo.Pipeline, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, toBsonD(stage))
	}
	cursor, err := c.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *mongoCollection) UpsertOne(ctx context.Context, filter map[string]any, doc map[string]any) error {
	_, err := c.coll.ReplaceOne(ctx, toBson(filter), toBson(doc), options.Replace().SetUpsert(true))
	return err
}

func (c *mongoCollection) BulkUpsert(ctx context.Context, keyField string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		key, ok := doc[keyField]
		if !ok {
			continue
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{keyField: key}).
			SetReplacement(toBson(doc)).
			SetUpsert(true))
	}
	if len(writes) == 0 {
		return nil
	}
	_, err := c.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter map[string]any, update map[string]any) error {
	_, err := c.coll.UpdateOne(ctx, toBson(filter), toBson(update))
	return err
}

func (c *mongoCollection) Count(ctx context.Context, filter map[string]any) (int64, error) {
	return c.coll.CountDocuments(ctx, toBson(filter))
}

func (c *mongoCollection) EnsureTTLIndex(ctx context.Context, field string, ttl time.Duration) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ttl / time.Second)),
	})
	return err
}

func toBson(m map[string]any) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = convertValue(v)
	}
	return out
}

func toBsonD(m map[string]any) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: convertValue(v)})
	}
	return d
}

func convertValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return toBson(val)
	case []map[string]any:
		arr := make(bson.A, 0, len(val))
		for _, item := range val {
			arr = append(arr, toBson(item))
		}
		return arr
	case []any:
		arr := make(bson.A, 0, len(val))
		for _, item := range val {
			arr = append(arr, convertValue(item))
		}
		return arr
	default:
		return v
	}
}
