package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// Server error codes worth telling apart.
const (
	codeUnauthorized     = 13
	codeTypeMismatch     = 14
	codeBadValue         = 2
	codeFailedToParse    = 9
	codeConflictingPaths = 40
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %v", docstore.ErrClosed, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(codeUnauthorized):
			return fmt.Errorf("%w: %v", docstore.ErrPermissionDenied, err)
		case se.HasErrorCode(codeTypeMismatch), se.HasErrorCode(codeBadValue),
			se.HasErrorCode(codeFailedToParse), se.HasErrorCode(codeConflictingPaths):
			return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
		case se.HasErrorLabel("RetryableWriteError"), se.HasErrorLabel("TransientTransactionError"):
			return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		}
	}
	return err
}
