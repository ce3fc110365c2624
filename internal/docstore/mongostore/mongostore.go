// Package mongostore implements docstore.Store on MongoDB. Atomic field
// transforms map onto $inc/$addToSet/$pull, guarded updates onto a filter
// that only matches when the precondition holds, and live queries onto
// change streams (which need a replica set).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// Open connects and pings, in the manner of a plain mongo.Connect.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, mapErr(err)
	}
	return client, nil
}

// Store is safe for concurrent use.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	feeds  map[*docstore.Feed]struct{}
	closed bool
}

// New wraps client using database name. The store disconnects the client
// on Close.
func New(client *mongo.Client, database string, log zerolog.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		client: client,
		db:     client.Database(database),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		feeds:  make(map[*docstore.Feed]struct{}),
	}
}

// EnsureIndexes creates the indexes the feed queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context, collection string, fields ...string) error {
	models := make([]mongo.IndexModel, 0, len(fields))
	for _, f := range fields {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: f, Value: 1}},
			Options: options.Index().SetName(collection + "_" + f),
		})
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("%s indexes: %w", collection, mapErr(err))
	}
	return nil
}

func byID(id string) bson.M { return bson.M{"_id": id} }

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	if err := s.db.Collection(collection).FindOne(ctx, byID(id)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
		}
		return docstore.Document{}, mapErr(err)
	}
	return toDocument(raw), nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	filter := bson.M{}
	for _, f := range q.Where {
		if !docstore.ValidField(f.Field) {
			return nil, fmt.Errorf("%w: filter field %q", docstore.ErrInvalidArgument, f.Field)
		}
		filter[f.Field] = f.Value
	}
	cur, err := s.db.Collection(q.Collection).Find(ctx, filter)
	if err != nil {
		return nil, mapErr(err)
	}
	defer cur.Close(ctx)

	docs := []docstore.Document{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		docs = append(docs, toDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, mapErr(err)
	}
	docstore.Sort(docs, q)
	return docs, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	doc := toBSON(fields)
	doc["_id"] = id
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", mapErr(err)
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	coll := s.db.Collection(collection)
	if !merge {
		_, err := coll.ReplaceOne(ctx, byID(id), toBSON(fields), options.Replace().SetUpsert(true))
		return mapErr(err)
	}
	update := bson.M{"$setOnInsert": bson.M{"_id": id}}
	if len(fields) > 0 {
		update = bson.M{"$set": toBSON(fields)}
	}
	_, err := coll.UpdateOne(ctx, byID(id), update, options.Update().SetUpsert(true))
	return mapErr(err)
}

func (s *Store) Update(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	update, err := updateDoc(muts)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, byID(id), update)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
	}
	return nil
}

// UpdateIf folds cond into the filter. When nothing matched, a follow-up
// count tells a missing document apart from a failed precondition.
func (s *Store) UpdateIf(ctx context.Context, collection, id string, cond docstore.Condition, muts ...docstore.Mutation) (bool, error) {
	update, err := updateDoc(muts)
	if err != nil {
		return false, err
	}
	if !docstore.ValidField(cond.Field) {
		return false, fmt.Errorf("%w: condition field %q", docstore.ErrInvalidArgument, cond.Field)
	}
	filter := byID(id)
	if cond.Present {
		filter[cond.Field] = cond.Value
	} else {
		filter[cond.Field] = bson.M{"$ne": cond.Value}
	}

	coll := s.db.Collection(collection)
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mapErr(err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := coll.CountDocuments(ctx, byID(id), options.Count().SetLimit(1))
	if err != nil {
		return false, mapErr(err)
	}
	if n == 0 {
		return false, fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
	}
	return false, nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	update, err := updateDoc(muts)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).UpdateOne(ctx, byID(id), update, options.Update().SetUpsert(true))
	return mapErr(err)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, byID(id))
	return mapErr(err)
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.client.Ping(ctx, readpref.Primary()))
}

// Close ends every subscription and disconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*docstore.Feed, 0, len(s.feeds))
	for f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()

	s.cancel()
	for _, f := range feeds {
		_ = f.Close()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// updateDoc renders mutations as a Mongo update document. Several values
// for one set field are combined with $each / $in.
func updateDoc(muts []docstore.Mutation) (bson.M, error) {
	if err := docstore.ValidateMutations(muts); err != nil {
		return nil, err
	}
	set := bson.M{}
	inc := bson.M{}
	add := map[string][]any{}
	pull := map[string][]any{}
	for _, m := range muts {
		switch m.Op {
		case docstore.OpSet:
			set[m.Field] = toBSONValue(docstore.Normalize(m.Value))
		case docstore.OpIncrement:
			cur, _ := inc[m.Field].(int64)
			inc[m.Field] = cur + m.Delta
		case docstore.OpArrayUnion:
			add[m.Field] = append(add[m.Field], m.Value)
		case docstore.OpArrayRemove:
			pull[m.Field] = append(pull[m.Field], m.Value)
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(add) > 0 {
		m := bson.M{}
		for f, vs := range add {
			m[f] = bson.M{"$each": bson.A(vs)}
		}
		update["$addToSet"] = m
	}
	if len(pull) > 0 {
		m := bson.M{}
		for f, vs := range pull {
			m[f] = bson.M{"$in": bson.A(vs)}
		}
		update["$pull"] = m
	}
	return update, nil
}
