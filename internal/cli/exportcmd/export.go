// Package exportcmd implements the 'remoteprof export' command.
package exportcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	errs "github.com/coral-mesh/remoteprof/internal/errors"
	"github.com/coral-mesh/remoteprof/internal/export"
	"github.com/coral-mesh/remoteprof/internal/store"
)

// NewExportCmd creates the export command.
func NewExportCmd(global *helpers.GlobalFlags) *cobra.Command {
	var (
		output string
		top    int
	)

	cmd := &cobra.Command{
		Use:   "export <recording-id>",
		Short: "Export a recording's sample groups as a pprof profile",
		Long: `Write the sample group tree of a recording as a gzipped pprof profile.

Each group becomes one sample whose stack is the group path from the root.
Sample values are the group count, its self time and its total time, so the
profile can be explored with 'go tool pprof' (default sample type: self).`,
		Example: `  remoteprof export 5f0c3b1e-9d2a-4c57-8f43-2b7d1c1e0a9f -o checkout.pb.gz
  go tool pprof -top checkout.pb.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.Load(cmd.Flags())
			if err != nil {
				return err
			}
			st, err := env.OpenStore()
			if err != nil {
				return fmt.Errorf("failed to open recording store: %w", err)
			}
			defer errs.DeferClose(env.Logger, st, "Failed to close recording store")

			if output == "" {
				output = args[0] + ".pb.gz"
			}
			return Run(cmd.Context(), st, args[0], output, top, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <recording-id>.pb.gz)")
	cmd.Flags().IntVar(&top, "top", 10, "Print the heaviest groups by self time (0 disables)")
	return cmd
}

// Run exports one recording to path and prints the top groups.
func Run(ctx context.Context, st store.Store, id, path string, top int, out io.Writer) error {
	tl, err := st.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recording %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load recording %s: %w", id, err)
	}

	prof, err := export.PProf(tl)
	if err != nil {
		return fmt.Errorf("failed to build profile: %w", err)
	}

	//nolint:gosec // G304: Path is provided by the user.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := prof.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Wrote %s (%d samples)\n", path, len(prof.Sample))
	if top <= 0 {
		return nil
	}

	entries := export.Top(prof, top)
	if len(entries) == 0 {
		return nil
	}
	_, _ = fmt.Fprint(out, "\n"+helpers.TitleStyle.Render("Top groups by self time")+"\n")
	for _, e := range entries {
		_, _ = fmt.Fprintf(out, "  %8s %5.1f%% %8s  %s (%d)\n",
			helpers.FormatDuration(e.Self), e.Pct, helpers.FormatDuration(e.Total), e.Name, e.Count)
	}
	return nil
}
