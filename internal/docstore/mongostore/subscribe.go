package mongostore

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	return s.watch(ctx, q.Collection, mongo.Pipeline{}, func(ctx context.Context) ([]docstore.Document, error) {
		return s.Query(ctx, q)
	})
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string) (docstore.Subscription, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": id}}}}
	return s.watch(ctx, collection, pipeline, func(ctx context.Context) ([]docstore.Document, error) {
		doc, err := s.Get(ctx, collection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return []docstore.Document{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []docstore.Document{doc}, nil
	})
}

// watch opens the change stream before the first read so nothing written
// in between is missed, then re-reads after every batch of events.
func (s *Store) watch(ctx context.Context, collection string, pipeline mongo.Pipeline, read func(context.Context) ([]docstore.Document, error)) (docstore.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.mu.Unlock()

	coll := s.db.Collection(collection)
	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream())
	if err != nil {
		return nil, mapErr(err)
	}
	docs, err := read(ctx)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}

	var feed *docstore.Feed
	feed = docstore.NewFeed(func() {
		s.mu.Lock()
		delete(s.feeds, feed)
		s.mu.Unlock()
	})
	feed.Push(docstore.Snapshot{Docs: docs})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close(context.Background())
		_ = feed.Close()
		return nil, docstore.ErrClosed
	}
	s.feeds[feed] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(s.ctx)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-feed.Done():
		case <-runCtx.Done():
		}
		cancel()
	}()
	go func() {
		defer s.wg.Done()
		s.run(runCtx, coll, pipeline, stream, read, feed)
	}()
	return feed, nil
}

func (s *Store) run(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, stream *mongo.ChangeStream, read func(context.Context) ([]docstore.Document, error), feed *docstore.Feed) {
	defer func() {
		if stream != nil {
			_ = stream.Close(context.Background())
		}
		_ = feed.Close()
	}()

	for {
		for stream.Next(ctx) {
			// Drain whatever else is already buffered before re-reading.
			for stream.TryNext(ctx) {
			}
			docs, err := read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error().Stack().Err(err).Str("collection", coll.Name()).Msg("mongostore: live query failed")
				feed.Fail(err)
				return
			}
			feed.Push(docstore.Snapshot{Docs: docs})
		}
		if ctx.Err() != nil {
			return
		}

		err := stream.Err()
		_ = stream.Close(context.Background())
		stream = nil
		s.log.Warn().Err(err).Str("collection", coll.Name()).Msg("mongostore: change stream ended, reopening")

		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxElapsedTime = time.Minute
		err = backoff.Retry(func() error {
			cs, err := coll.Watch(ctx, pipeline, options.ChangeStream())
			if err != nil {
				return err
			}
			stream = cs
			return nil
		}, backoff.WithContext(exp, ctx))
		if err != nil {
			if ctx.Err() == nil {
				feed.Fail(mapErr(err))
			}
			return
		}
		// Events between the old and new stream are unknown.
		docs, err := read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				feed.Fail(err)
			}
			return
		}
		feed.Push(docstore.Snapshot{Docs: docs})
	}
}

// Watchers returns the number of open subscriptions.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}
