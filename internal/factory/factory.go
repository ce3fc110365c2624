// Package factory builds the feed client's backends from configuration.
package factory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/blobstore/gcsblob"
	"github.com/joncaseee/pdx-underground-app/internal/changefeed"
	"github.com/joncaseee/pdx-underground-app/internal/changefeed/amqpfeed"
	"github.com/joncaseee/pdx-underground-app/internal/changefeed/pgnotify"
	"github.com/joncaseee/pdx-underground-app/internal/config"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	fsstore "github.com/joncaseee/pdx-underground-app/internal/docstore/firestore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/memstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/mongostore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/sqlstore"
	"github.com/joncaseee/pdx-underground-app/internal/identity"
	"github.com/joncaseee/pdx-underground-app/internal/profilecache"
	"github.com/joncaseee/pdx-underground-app/internal/shardqueue"
)

// NewDocStore opens the document store selected by cfg.DocStore.
func NewDocStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (docstore.Store, error) {
	log = log.With().Str("doc_store", cfg.DocStore).Logger()
	switch cfg.DocStore {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		db, err := sqlstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		n, err := newNotifier(ctx, cfg, nil, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqlstore.New(ctx, db, sqlstore.SQLite, sqlstore.WithLogger(log), sqlstore.WithNotifier(n))
	case "postgres":
		db, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		n, err := newNotifier(ctx, cfg, db, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqlstore.New(ctx, db, sqlstore.Postgres, sqlstore.WithLogger(log), sqlstore.WithNotifier(n))
	case "mongo":
		client, err := mongostore.Open(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(client, cfg.MongoDatabase, log)
		if err := s.EnsureIndexes(ctx, "events", "userId", "dateTime"); err != nil {
			log.Warn().Err(err).Msg("event indexes not created")
		}
		return s, nil
	case "firestore":
		return fsstore.Open(ctx, cfg.FirestoreProjectID, log)
	default:
		return nil, fmt.Errorf("unknown DOC_STORE: %s", cfg.DocStore)
	}
}

// newNotifier returns the change transport for SQL stores. Document
// stores with native change streams ignore it.
func newNotifier(ctx context.Context, cfg *config.Config, db *sql.DB, log zerolog.Logger) (changefeed.Notifier, error) {
	switch cfg.Notifier {
	case "local":
		return changefeed.NewHub(), nil
	case "postgres":
		if db == nil {
			return nil, errors.New("NOTIFIER=postgres requires DOC_STORE=postgres")
		}
		return pgnotify.New(ctx, cfg.PostgresDSN, db, log)
	case "amqp":
		return amqpfeed.New(ctx, cfg.AMQPURL, log)
	default:
		return nil, fmt.Errorf("unknown NOTIFIER: %s", cfg.Notifier)
	}
}

// NewBlobStore opens the blob store selected by cfg.BlobStore.
func NewBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobStore {
	case "memory":
		return blobstore.NewMemory(), nil
	case "fs":
		return blobstore.NewFS(cfg.BlobDir, cfg.BlobBaseURL)
	case "gcs":
		return gcsblob.New(ctx, cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown BLOB_STORE: %s", cfg.BlobStore)
	}
}

// Backends are the stores behind a client. The client does not own them.
type Backends struct {
	Store docstore.Store
	Blobs blobstore.Store
}

// Close releases both stores.
func (b *Backends) Close() error {
	var errs []error
	if b.Blobs != nil {
		errs = append(errs, b.Blobs.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	return errors.Join(errs...)
}

// NewClient wires a feed.Client from cfg. Close the client before the
// backends.
func NewClient(ctx context.Context, cfg *config.Config, ident identity.Provider, log zerolog.Logger) (*feed.Client, *Backends, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	store, err := NewDocStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("doc store: %w", err)
	}
	b := &Backends{Store: store}
	if b.Blobs, err = NewBlobStore(ctx, cfg); err != nil {
		_ = b.Close()
		return nil, nil, fmt.Errorf("blob store: %w", err)
	}

	sqCfg, err := shardqueue.LoadConfig()
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}

	profiles := profilecache.New(profilecache.StoreLoader(store), cfg.ProfileCacheSize, cfg.ProfileCacheTTL,
		profilecache.WithLogger(log))

	client, err := feed.New(store, b.Blobs, ident,
		feed.WithLogger(log),
		feed.WithExecutorConfig(sqCfg),
		feed.WithProfileCache(profiles),
		feed.WithLocation(loc),
	)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return client, b, nil
}
