// Package heartbeat monitors target liveness with periodic pings.
//
// Example usage:
//
//	m := heartbeat.NewMonitor(t, heartbeat.Config{Interval: 5 * time.Second, MaxFailures: 3}, logger)
//	go m.Run(ctx, func(err error) { _ = t.Close() })
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultTimeout     = 5 * time.Second
	DefaultMaxFailures = 3
)

// Pinger is the target side of a heartbeat. *target.Target implements it.
type Pinger interface {
	ID() string
	Ping(ctx context.Context) (time.Duration, error)
}

// Config tunes a Monitor. Zero fields take the defaults.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// Monitor pings a target on a fixed interval.
type Monitor struct {
	target Pinger
	cfg    Config
	logger zerolog.Logger
}

// NewMonitor creates a monitor for target.
func NewMonitor(target Pinger, cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	return &Monitor{
		target: target,
		cfg:    cfg,
		logger: logger.With().
			Str("component", "heartbeat").
			Str("target_id", target.ID()).
			Logger(),
	}
}

// Run pings until ctx is cancelled or MaxFailures consecutive pings fail, in
// which case onDead is called with the last error and Run returns it.
func (m *Monitor) Run(ctx context.Context, onDead func(err error)) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rtt, err := m.Ping(ctx)
			if err == nil {
				failures = 0
				m.logger.Trace().Dur("rtt", rtt).Msg("Heartbeat")
				continue
			}
			if ctx.Err() != nil {
				return nil
			}

			failures++
			m.logger.Warn().Err(err).Int("failures", failures).Msg("Heartbeat failed")
			if failures >= m.cfg.MaxFailures {
				m.logger.Error().Err(err).Msg("Target unresponsive")
				if onDead != nil {
					onDead(err)
				}
				return err
			}
		}
	}
}

// Ping sends a single ping bounded by the configured timeout.
func (m *Monitor) Ping(ctx context.Context) (time.Duration, error) {
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	return m.target.Ping(pingCtx)
}
