package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// mapErr translates driver errors into docstore sentinels, keeping the
// original in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		case pgErr.Code == "42501":
			return fmt.Errorf("%w: %v", docstore.ErrPermissionDenied, err)
		case strings.HasPrefix(pgErr.Code, "22"):
			return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
			return fmt.Errorf("%w: %v", docstore.ErrPermissionDenied, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	if strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %v", docstore.ErrClosed, err)
	}
	return err
}
