// Package blobstore abstracts the external blob store holding event and
// profile images.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Delete when no object exists at the handle.
var ErrNotFound = errors.New("blobstore: object not found")

// ErrInvalidPath rejects empty, absolute, or escaping object paths.
var ErrInvalidPath = errors.New("blobstore: invalid path")

// Handle identifies a stored object. It is the object path.
type Handle string

// Store is the blob store contract.
type Store interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string) (Handle, error)
	PublicURL(ctx context.Context, h Handle) (string, error)
	// Delete removes the object; ErrNotFound if it is already absent.
	Delete(ctx context.Context, h Handle) error
	Close() error
}

// CleanPath validates p and returns it in canonical slash form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// EventImagePath is where an event image uploaded by uid at unixMillis lives.
func EventImagePath(uid string, unixMillis int64) string {
	return fmt.Sprintf("events/%s/%d", uid, unixMillis)
}

// ProfileImagePath is where uid's profile picture lives.
func ProfileImagePath(uid string, unixMillis int64) string {
	return fmt.Sprintf("profilePictures/%s/%d", uid, unixMillis)
}
