package docstore

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("document store unavailable")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrClosed           = errors.New("document store closed")
)
