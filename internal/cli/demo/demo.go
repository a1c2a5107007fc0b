// Package demo implements the 'remoteprof demo-target' command: a process
// that embeds the profiling SDK and runs a synthetic workload to record.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/constants"
	"github.com/coral-mesh/remoteprof/pkg/sdk"
)

// Options are the flags of the demo-target command.
type Options struct {
	Listen   string
	WSListen string
	AppName  string
	Tick     time.Duration
}

// NewDemoCmd creates the demo-target command.
func NewDemoCmd(global *helpers.GlobalFlags) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "demo-target",
		Short: "Run a profiling target with a synthetic workload",
		Long: `Start a process that embeds the profiling SDK and simulates work:
nested spans on several threads, network requests, log lines and tags.

Use it to try 'remoteprof record' without instrumenting an application.`,
		Example: `  remoteprof demo-target
  remoteprof demo-target --listen 0.0.0.0:7330 --ws-listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, opts, env.Config.Transport.MaxFrameSize, env.Logger)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", constants.DefaultListenAddr, "TCP address to accept hosts on")
	cmd.Flags().StringVar(&opts.WSListen, "ws-listen", "", "Also accept WebSocket hosts on this address (path /profiling)")
	cmd.Flags().StringVar(&opts.AppName, "app-name", "remoteprof-demo", "Application name reported to hosts")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 200*time.Millisecond, "Interval between simulated work units")
	return cmd
}

// Run serves hosts and simulates work until ctx ends.
func Run(ctx context.Context, opts Options, maxFrameSize int, logger zerolog.Logger) error {
	srv, err := sdk.New(sdk.Config{
		Listen:       opts.Listen,
		AppName:      opts.AppName,
		MaxFrameSize: maxFrameSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	logger.Info().Str("addr", srv.Addr()).Msg("Demo target ready")

	g, gctx := errgroup.WithContext(ctx)
	if opts.WSListen != "" {
		g.Go(func() error { return serveWebSocket(gctx, opts.WSListen, srv, logger) })
	}
	g.Go(func() error {
		Workload(gctx, srv, opts.Tick)
		return nil
	})
	return g.Wait()
}

func serveWebSocket(ctx context.Context, addr string, srv *sdk.Server, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/profiling", srv.WebSocketHandler())
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = hs.Close()
	}()

	logger.Info().Str("addr", addr).Msg("Accepting WebSocket hosts on /profiling")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket listener: %w", err)
	}
	return nil
}

// Workload simulates one unit of work per tick while a host is recording.
func Workload(ctx context.Context, srv *sdk.Server, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var unit int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p := srv.Profiler()
		if p == nil {
			continue
		}
		unit++
		if err := workUnit(p, unit, tick); err != nil && !errors.Is(err, sdk.ErrNotRecording) {
			return
		}
	}
}

func workUnit(p *sdk.Profiler, unit int, budget time.Duration) error {
	if unit == 1 {
		if err := p.UpdateThread(0, "main"); err != nil {
			return err
		}
		if err := p.UpdateThread(1, "network"); err != nil {
			return err
		}
	}

	frame, err := p.BeginGroup(0, fmt.Sprintf("frame %d", unit))
	if err != nil {
		return err
	}

	layout, err := p.BeginGroup(0, "layout")
	if err != nil {
		return err
	}
	burn(budget / 8)
	if err := p.EndGroup(0, layout); err != nil {
		return err
	}

	fetch, err := p.BeginGroup(1, "fetch catalog")
	if err != nil {
		return err
	}
	req, err := p.StartRequest(sdk.Request{Method: "GET", URL: "https://demo.invalid/catalog?page=" + fmt.Sprint(unit)})
	if err != nil {
		return err
	}
	burn(budget / 8)
	resp := sdk.Response{StatusCode: 200, MIMEType: "application/json", DataLength: int64(1024 + rand.IntN(4096))}
	if rand.IntN(10) == 0 {
		resp = sdk.Response{StatusCode: 503, Err: errors.New("service unavailable")}
	}
	if err := p.FinishRequest(req, resp); err != nil {
		return err
	}
	if err := p.EndGroup(1, fetch); err != nil {
		return err
	}

	if err := p.AddLog("info", "demo", fmt.Sprintf("rendered frame %d", unit)); err != nil {
		return err
	}
	if unit%10 == 0 {
		if err := p.AddTag(fmt.Sprintf("checkpoint %d", unit/10)); err != nil {
			return err
		}
	}
	return p.EndGroup(0, frame)
}

// burn keeps the CPU busy for roughly d so samples show load.
func burn(d time.Duration) {
	deadline := time.Now().Add(d)
	x := 1.0
	for time.Now().Before(deadline) {
		for i := 0; i < 1000; i++ {
			x = x*1.0000001 + 1
		}
	}
	_ = x
}
