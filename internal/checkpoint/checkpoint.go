// Package checkpoint tracks per-collection scan cursors. The default store
// keeps positions in memory and lives for a single run, so every invocation
// re-scans from the beginning; the Mongo-backed store persists positions so
// a restarted process can resume where the previous run left off.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jentle/kafka-connect-mongo/pkg/errors"
)

// Position is a per-collection cursor: the latest document identifier
// observed plus a running count of documents emitted.
type Position struct {
	LastID primitive.ObjectID
	Count  int64
}

// IsZero reports whether the position is unset (scan from the beginning)
func (p Position) IsZero() bool {
	return p.LastID.IsZero()
}

// Store loads and saves scan positions keyed by database-qualified
// collection name.
type Store interface {
	Load(ctx context.Context, namespace string) (Position, error)
	Save(ctx context.Context, namespace string, pos Position) error
}

// MemoryStore keeps positions in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

// Load returns the stored position, or the zero position when none exists
func (s *MemoryStore) Load(_ context.Context, namespace string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[namespace], nil
}

// Save stores the position for a namespace
func (s *MemoryStore) Save(_ context.Context, namespace string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[namespace] = pos
	return nil
}

// checkpointDoc is the stored shape of one position
type checkpointDoc struct {
	Namespace string             `bson:"_id"`
	LastID    primitive.ObjectID `bson:"last_id"`
	Count     int64              `bson:"count"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// MongoStore persists positions in a MongoDB collection, one document per
// namespace keyed by the namespace name.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store backed by the given collection
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// Load returns the persisted position, or the zero position when none exists
func (s *MongoStore) Load(ctx context.Context, namespace string) (Position, error) {
	var doc checkpointDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: namespace}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, errors.Wrap(err, errors.ErrorTypeQuery, "failed to load checkpoint").
			WithDetail("namespace", namespace)
	}

	return Position{LastID: doc.LastID, Count: doc.Count}, nil
}

// Save upserts the position for a namespace
func (s *MongoStore) Save(ctx context.Context, namespace string, pos Position) error {
	doc := checkpointDoc{
		Namespace: namespace,
		LastID:    pos.LastID,
		Count:     pos.Count,
		UpdatedAt: time.Now(),
	}

	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: namespace}},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to save checkpoint").
			WithDetail("namespace", namespace)
	}

	return nil
}
