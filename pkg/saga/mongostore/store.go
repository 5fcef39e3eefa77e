package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// DefaultCollection is the collection name used unless WithCollection is given.
const DefaultCollection = "saga_instances"

var (
	_ saga.Store         = (*Store)(nil)
	_ saga.StalledLister = (*Store)(nil)
)

type document struct {
	ID             string    `bson:"_id"`
	State          string    `bson:"state"`
	Version        int64     `bson:"version"`
	PendingTimeout *string   `bson:"pending_timeout"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

// Store implements saga.Store on a MongoDB collection.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	collection string
	now        func() time.Time
}

func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func New(db *mongo.Database, opts ...Option) *Store {
	o := storeOptions{collection: DefaultCollection, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{coll: db.Collection(o.collection), now: o.now}
}

// EnsureIndexes creates the index ListStalled relies on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "updated_at", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create saga indexes: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, correlationID string) (*saga.Instance, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: correlationID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", correlationID, err)
	}
	return doc.instance()
}

func (s *Store) Create(ctx context.Context, inst *saga.Instance) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	doc := document{
		ID:             inst.CorrelationID,
		State:          string(inst.State),
		Version:        1,
		PendingTimeout: encodeToken(inst.PendingTimeout),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", saga.ErrAlreadyExists, inst.CorrelationID)
		}
		return nil, fmt.Errorf("create saga %s: %w", inst.CorrelationID, err)
	}
	return doc.instance()
}

func (s *Store) Update(ctx context.Context, inst *saga.Instance, expectedVersion int64) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	filter := bson.D{
		{Key: "_id", Value: inst.CorrelationID},
		{Key: "version", Value: expectedVersion},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "state", Value: string(inst.State)},
			{Key: "pending_timeout", Value: encodeToken(inst.PendingTimeout)},
			{Key: "updated_at", Value: s.now().UTC().Truncate(time.Millisecond)},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
	}

	var doc document
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.instance()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update saga %s: %w", inst.CorrelationID, err)
	}

	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: inst.CorrelationID}})
	if err != nil {
		return nil, fmt.Errorf("update saga %s: %w", inst.CorrelationID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, inst.CorrelationID)
	}
	return nil, fmt.Errorf("%w: %s expected version %d", saga.ErrVersionConflict, inst.CorrelationID, expectedVersion)
}

func (s *Store) ListStalled(ctx context.Context, states []statemachine.State, overdueBefore time.Time, limit int) ([]*saga.Instance, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	filter := bson.D{
		{Key: "state", Value: bson.D{{Key: "$in", Value: names}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "pending_timeout", Value: nil}},
			bson.D{{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: overdueBefore.UTC()}}}},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list stalled sagas: %w", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list stalled sagas: %w", err)
	}

	out := make([]*saga.Instance, 0, len(docs))
	for _, d := range docs {
		inst, err := d.instance()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (d document) instance() (*saga.Instance, error) {
	inst := &saga.Instance{
		CorrelationID: d.ID,
		State:         statemachine.State(d.State),
		Version:       d.Version,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.PendingTimeout != nil {
		t, err := uuid.Parse(*d.PendingTimeout)
		if err != nil {
			return nil, fmt.Errorf("decode saga %s token: %w", d.ID, err)
		}
		inst.PendingTimeout = &t
	}
	return inst, nil
}

func encodeToken(token *uuid.UUID) *string {
	if token == nil {
		return nil
	}
	s := token.String()
	return &s
}
