// Package record implements the 'remoteprof record' command.
package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/cli/live"
	"github.com/coral-mesh/remoteprof/internal/constants"
	errs "github.com/coral-mesh/remoteprof/internal/errors"
	"github.com/coral-mesh/remoteprof/internal/metrics"
	"github.com/coral-mesh/remoteprof/internal/safe"
	"github.com/coral-mesh/remoteprof/internal/store"
	"github.com/coral-mesh/remoteprof/internal/story"
	"github.com/coral-mesh/remoteprof/internal/target"
	"github.com/coral-mesh/remoteprof/internal/target/heartbeat"
	"github.com/coral-mesh/remoteprof/internal/transport"
)

// Options are the flags of the record command.
type Options struct {
	ConfigFile  string
	Duration    time.Duration
	MetricsAddr string
	Format      string
	Live        bool
}

// errStopRequested ends the recording when the user stops it from the live
// view.
var errStopRequested = errors.New("stop requested")

// NewRecordCmd creates the record command.
func NewRecordCmd(global *helpers.GlobalFlags) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "record <address>",
		Short: "Record a profiling session from a target",
		Long: `Connect to a profiling target, start profiling and store every story
event it streams until interrupted (Ctrl-C) or until --duration elapses.

Addresses are host:port (TCP) or ws://host:port/path (WebSocket).

The profiling configuration file is sent to the target as-is. Targets built
with the remoteprof SDK accept YAML with the keys name, sample_interval,
advanced, record_network and record_logs.`,
		Example: `  remoteprof record 127.0.0.1:7330
  remoteprof record 10.0.0.5:7330 --config-file profile.yaml --duration 30s
  remoteprof record ws://device.local:8080/profiling --metrics-addr :9102`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if opts.MetricsAddr == "" {
				opts.MetricsAddr = env.Config.Metrics.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, env, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config-file", "", "Profiling configuration sent to the target")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "Stop after this long (0 records until interrupted)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "Show a live view of the recording (requires a terminal)")
	helpers.AddFormatFlag(cmd, &opts.Format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})
	return cmd
}

// Run records one session from the target at addr and prints a summary of
// every recording it produced.
func Run(ctx context.Context, env *helpers.Env, addr string, opts Options, out io.Writer) error {
	var configuration []byte
	if opts.ConfigFile != "" {
		data, err := safe.ReadFile(opts.ConfigFile, safe.MaxConfigSize)
		if err != nil {
			return fmt.Errorf("failed to read profiling configuration: %w", err)
		}
		configuration = data
	}

	logger := env.Logger.With().Str("component", "record").Logger()
	st, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open recording store: %w", err)
	}
	defer errs.DeferClose(logger, st, "Failed to close recording store")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cfg := env.Config
	tgt, err := target.New(target.Config{
		Address: addr,
		Dialer: transport.NewDialer(transport.Options{
			MaxFrameSize: cfg.Transport.MaxFrameSize,
			Timeout:      cfg.Transport.DialTimeout,
			Retries:      cfg.Transport.DialRetries,
		}),
		Decoder: story.NewApplier(st, env.Logger),
		Workers: cfg.Decode.Workers,
		Metrics: m,
		Logger:  env.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tgt.Close() }()

	if err := connect(ctx, tgt, configuration, out); err != nil {
		return err
	}

	recordCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(recordCtx)
	if opts.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, opts.MetricsAddr, reg, logger) })
	}
	if cfg.Heartbeat.Interval > 0 {
		monitor := heartbeat.NewMonitor(tgt, heartbeat.Config{
			Interval:    cfg.Heartbeat.Interval,
			Timeout:     cfg.Heartbeat.Timeout,
			MaxFailures: cfg.Heartbeat.MaxFailures,
		}, env.Logger)
		g.Go(func() error {
			return monitor.Run(gctx, func(error) { _ = tgt.Close() })
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-tgt.Done():
			if cause := tgt.Err(); cause != nil {
				return fmt.Errorf("target connection closed: %w", cause)
			}
			return errors.New("target connection closed")
		}
	})

	if opts.Live {
		view := live.NewModel(addr, snapshotSource(st, tgt), liveRefresh)
		g.Go(func() error {
			final, err := live.Run(gctx, view, tea.WithOutput(out))
			if err != nil {
				return fmt.Errorf("live view: %w", err)
			}
			if final.StopRequested() {
				return errStopRequested
			}
			return nil
		})
	} else {
		_, _ = fmt.Fprintln(out, helpers.MutedStyle.Render("Recording... press Ctrl-C to stop"))
	}
	runErr := g.Wait()
	if errors.Is(runErr, errStopRequested) {
		runErr = nil
	}

	if tgt.State() == target.StateRecording {
		stopCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultStopTimeout)
		err := tgt.StopProfiling(stopCtx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to stop profiling")
			if runErr == nil {
				runErr = err
			}
		}
	}
	_ = tgt.Close()

	if err := printSummaries(context.Background(), st, tgt.Recordings(), opts.Format, out); err != nil {
		return err
	}
	return runErr
}

func connect(ctx context.Context, tgt *target.Target, configuration []byte, out io.Writer) error {
	cmdCtx, cancel := context.WithTimeout(ctx, constants.DefaultCommandTimeout)
	defer cancel()

	if err := tgt.Resolve(cmdCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tgt.Address(), err)
	}
	info, err := tgt.LoadDeviceInfo(cmdCtx)
	if err != nil {
		return fmt.Errorf("failed to load device info: %w", err)
	}
	_, _ = fmt.Fprint(out,
		helpers.TitleStyle.Render("Connected to "+tgt.Address())+"\n",
		helpers.KeyValue("App", info.AppName),
		helpers.KeyValue("Device", info.DeviceName),
		helpers.KeyValue("OS", fmt.Sprintf("%s (%s)", info.DeviceOS, info.DeviceOSType)),
	)

	if err := tgt.StartProfiling(cmdCtx, configuration); err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// liveRefresh is how often the live view polls the store.
const liveRefresh = 500 * time.Millisecond

func snapshotSource(st store.Store, tgt *target.Target) live.SourceFunc {
	return func(ctx context.Context) (live.Snapshot, error) {
		snap := live.Snapshot{
			State:    tgt.State().String(),
			LastSeen: tgt.LastSeen(),
		}
		ids := tgt.Recordings()
		if len(ids) == 0 {
			return snap, nil
		}
		tl, err := st.Load(ctx, ids[len(ids)-1])
		if errors.Is(err, store.ErrNotFound) {
			return snap, nil
		}
		if err != nil {
			return snap, err
		}
		summary := helpers.Summarize(tl)
		snap.Summary = &summary
		return snap, nil
	}
}

func printSummaries(ctx context.Context, st store.Store, ids []string, format string, out io.Writer) error {
	if len(ids) == 0 {
		_, _ = fmt.Fprintln(out, "No recordings received.")
		return nil
	}

	summaries := make([]helpers.RecordingSummary, 0, len(ids))
	for _, id := range ids {
		tl, err := st.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load recording %s: %w", id, err)
		}
		summaries = append(summaries, helpers.Summarize(tl))
	}

	if format == string(helpers.FormatJSON) {
		return (&helpers.JSONFormatter{}).Format(summaries, out)
	}
	for _, s := range summaries {
		if err := helpers.PrintSummary(out, s); err != nil {
			return err
		}
	}
	return nil
}
