// Package transport carries framed envelopes between a host and a target.
//
// Two connection flavours are supported: a raw TCP stream framed with a
// 4-byte length prefix, and a WebSocket connection where every binary
// message is one frame.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coral-mesh/remoteprof/internal/retry"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Conn is a framed, bidirectional connection.
//
// ReadFrame must only be called from one goroutine. WriteFrame is safe for
// concurrent use and never interleaves partial frames. Close unblocks a
// pending ReadFrame.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
	Close() error
	RemoteAddr() string
}

// Dialer opens connections to targets.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) { return f(ctx, addr) }

// Options configures NetDialer.
type Options struct {
	// MaxFrameSize bounds incoming frames (default wire.DefaultMaxFrameSize).
	MaxFrameSize int
	// Timeout bounds each dial attempt (default 10s).
	Timeout time.Duration
	// Retries is the number of dial attempts (default 1, no retry).
	Retries int
}

// NetDialer dials tcp:// (or bare host:port) and ws:// / wss:// addresses.
type NetDialer struct {
	opts Options
}

// NewDialer creates a dialer with the given options.
func NewDialer(opts Options) *NetDialer {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	return &NetDialer{opts: opts}
}

// Dial connects to addr, retrying refused or timed-out attempts with
// exponential backoff.
func (d *NetDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	var conn Conn
	cfg := retry.Config{
		MaxRetries:     d.opts.Retries,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         0.2,
	}
	err := retry.Do(ctx, cfg, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()

		c, err := d.dialOnce(attemptCtx, addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, isTransientDialError)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

func (d *NetDialer) dialOnce(ctx context.Context, addr string) (Conn, error) {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return NewWebSocket(ws, d.opts.MaxFrameSize), nil
	default:
		hostPort := strings.TrimPrefix(addr, "tcp://")
		var nd net.Dialer
		c, err := nd.DialContext(ctx, "tcp", hostPort)
		if err != nil {
			return nil, err
		}
		return NewStream(c, d.opts.MaxFrameSize), nil
	}
}

func isTransientDialError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// IsClosed reports whether err signals an orderly or local close rather
// than a failure.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
