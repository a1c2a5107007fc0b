// Package inspect implements the 'remoteprof inspect' command.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	errs "github.com/coral-mesh/remoteprof/internal/errors"
	"github.com/coral-mesh/remoteprof/internal/logging"
	"github.com/coral-mesh/remoteprof/internal/store"
)

var supportedFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
}

// NewInspectCmd creates the inspect command.
func NewInspectCmd(global *helpers.GlobalFlags) *cobra.Command {
	var (
		format  string
		verbose bool
		report  bool
		times   helpers.TimeFlags
	)

	cmd := &cobra.Command{
		Use:   "inspect [recording-id]",
		Short: "List recordings or show one recording",
		Long: `Without arguments, list the stored recordings, newest first.

With a recording id, show its summary and sample group tree. Each group
reports its total time, its self time (total minus its children) and the
number of performance samples taken inside it.`,
		Example: `  remoteprof inspect
  remoteprof inspect --since 24h -o json
  remoteprof inspect 5f0c3b1e-9d2a-4c57-8f43-2b7d1c1e0a9f
  remoteprof inspect 5f0c3b1e-9d2a-4c57-8f43-2b7d1c1e0a9f --report`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, supportedFormats); err != nil {
				return err
			}
			env, err := global.Load(cmd.Flags())
			if err != nil {
				return err
			}
			st, err := env.OpenStore()
			if err != nil {
				return fmt.Errorf("failed to open recording store: %w", err)
			}
			defer errs.DeferClose(env.Logger, st, "Failed to close recording store")

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				r, err := times.Parse(time.Now())
				if err != nil {
					return err
				}
				return List(cmd.Context(), st, r, helpers.OutputFormat(format), out)
			}
			if report {
				return Report(cmd.Context(), st, args[0], logging.IsTerminal(out), out)
			}
			return Show(cmd.Context(), st, args[0], helpers.OutputFormat(format), verbose, out)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, supportedFormats)
	helpers.AddVerboseFlag(cmd, &verbose)
	cmd.Flags().BoolVar(&report, "report", false, "Render a Markdown report of the recording")
	times.AddFlags(cmd.Flags())
	return cmd
}

// List prints the recordings whose start time falls in r.
func List(ctx context.Context, st store.Store, r *helpers.TimeRange, format helpers.OutputFormat, out io.Writer) error {
	recs, err := st.Recordings(ctx)
	if err != nil {
		return fmt.Errorf("failed to list recordings: %w", err)
	}

	summaries := make([]helpers.RecordingSummary, 0, len(recs))
	for _, rec := range recs {
		if !r.Contains(rec.StartTime) {
			continue
		}
		tl, err := st.Load(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to load recording %s: %w", rec.ID, err)
		}
		summaries = append(summaries, helpers.Summarize(tl))
	}

	if format == helpers.FormatTable && len(summaries) == 0 {
		_, err := fmt.Fprintln(out, "No recordings found.")
		return err
	}
	f, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	return f.Format(summaries, out)
}

// Detail is the machine-readable view of one recording.
type Detail struct {
	Summary  helpers.RecordingSummary `json:"summary" yaml:"summary"`
	Timeline *store.Timeline          `json:"timeline" yaml:"timeline"`
}

// Report prints a rendered Markdown report of one recording.
func Report(ctx context.Context, st store.Store, id string, color bool, out io.Writer) error {
	tl, err := load(ctx, st, id)
	if err != nil {
		return err
	}
	rendered, err := helpers.RenderMarkdown(helpers.Report(tl), color)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}

func load(ctx context.Context, st store.Store, id string) (*store.Timeline, error) {
	tl, err := st.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("recording %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording %s: %w", id, err)
	}
	return tl, nil
}

// Show prints one recording.
func Show(ctx context.Context, st store.Store, id string, format helpers.OutputFormat, verbose bool, out io.Writer) error {
	tl, err := load(ctx, st, id)
	if err != nil {
		return err
	}

	summary := helpers.Summarize(tl)
	if format != helpers.FormatTable {
		f, err := helpers.NewFormatter(format)
		if err != nil {
			return err
		}
		return f.Format(Detail{Summary: summary, Timeline: tl}, out)
	}

	if err := helpers.PrintSummary(out, summary); err != nil {
		return err
	}

	total := summary.Duration
	roots := helpers.BuildGroupTree(tl)
	if total == 0 {
		for _, r := range roots {
			total += r.Total
		}
	}
	_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Sample groups")+"\n")
	_, _ = fmt.Fprint(out, helpers.RenderGroupTree(roots, total))

	if len(tl.Threads) > 0 {
		_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Threads")+"\n")
		for _, th := range tl.Threads {
			_, _ = fmt.Fprint(out, helpers.KeyValue(fmt.Sprintf("#%d", th.Number), th.Name))
		}
	}

	if !verbose {
		return nil
	}
	if len(tl.Network) > 0 {
		_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Network")+"\n")
		for _, n := range tl.Network {
			status := helpers.WarnStyle.Render("pending")
			if n.ResponseTimestamp != nil {
				status = fmt.Sprintf("%d in %s", n.ResponseStatusCode, helpers.FormatDuration(n.Duration()))
			}
			_, _ = fmt.Fprintf(out, "  %-6s %s %s\n", n.Method, n.URL, status)
		}
	}
	if len(tl.Logs) > 0 {
		_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Logs")+"\n")
		for _, l := range tl.Logs {
			_, _ = fmt.Fprintf(out, "  %s %-5s %s\n",
				helpers.MutedStyle.Render(l.Timestamp.Format("15:04:05.000")), l.Level, l.Line)
		}
	}
	if len(tl.Tags) > 0 {
		_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Tags")+"\n")
		for _, tag := range tl.Tags {
			offset := tag.Timestamp.Sub(tl.Recording.StartTime)
			_, _ = fmt.Fprintf(out, "  +%s %s\n", helpers.FormatDuration(offset), tag.Name)
		}
	}
	return nil
}
