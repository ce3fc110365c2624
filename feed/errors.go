package feed

import (
	"errors"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

var (
	// ErrUnauthenticated is returned by operations that need a signed-in user.
	ErrUnauthenticated = errors.New("not signed in")

	// ErrNotOwner is returned when editing or deleting someone else's event.
	ErrNotOwner = errors.New("event belongs to another user")

	// ErrViewClosed is returned by View methods after Close.
	ErrViewClosed = errors.New("view closed")

	// ErrClientClosed is returned after Client.Close.
	ErrClientClosed = errors.New("client closed")

	// ErrBackPressure is returned when the toggle queue is full.
	ErrBackPressure = errors.New("back-pressure (queue full)")
)

// Re-exported so callers compare against a single symbol.
var (
	ErrNotFound         = docstore.ErrNotFound
	ErrPermissionDenied = docstore.ErrPermissionDenied
	ErrValidation       = model.ErrValidation
)

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }
