// Package gcsblob stores images in a Google Cloud Storage bucket.
package gcsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
)

// Store implements blobstore.Store on a single bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New opens a client using application default credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return NewWithClient(client, bucket), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: client.Bucket(bucket), name: bucket}
}

func (s *Store) Upload(ctx context.Context, p string, r io.Reader, contentType string) (blobstore.Handle, error) {
	clean, err := blobstore.CleanPath(p)
	if err != nil {
		return "", err
	}
	w := s.bucket.Object(clean).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload %s: %w", clean, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs upload %s: %w", clean, err)
	}
	return blobstore.Handle(clean), nil
}

func (s *Store) PublicURL(_ context.Context, h blobstore.Handle) (string, error) {
	u := url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + s.name + "/" + string(h)}
	return u.String(), nil
}

func (s *Store) Delete(ctx context.Context, h blobstore.Handle) error {
	if err := s.bucket.Object(string(h)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return blobstore.ErrNotFound
		}
		return fmt.Errorf("gcs delete %s: %w", h, err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
