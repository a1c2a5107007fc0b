// Package errors holds cleanup helpers shared by the host and the SDK.
package errors

import (
	"database/sql"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure at warn level. Closing an
// already closed network connection is not reported.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn().Err(err).Msg(msg)
	}
}

// Rollbacker is an open unit of work: a store batch or a *sql.Tx.
type Rollbacker interface {
	Rollback() error
}

// DeferRollback rolls rb back and logs a failure at warn level.
// sql.ErrTxDone is expected after a commit and is ignored.
func DeferRollback(logger zerolog.Logger, rb Rollbacker, msg string) {
	if rb == nil {
		return
	}
	if err := rb.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg(msg)
	}
}
