// Package cli assembles the remoteprof command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/remoteprof/internal/cli/config"
	"github.com/coral-mesh/remoteprof/internal/cli/demo"
	"github.com/coral-mesh/remoteprof/internal/cli/exportcmd"
	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/cli/inspect"
	"github.com/coral-mesh/remoteprof/internal/cli/record"
	"github.com/coral-mesh/remoteprof/internal/cli/schemacmd"
	"github.com/coral-mesh/remoteprof/pkg/version"
)

// NewRootCmd builds the remoteprof command tree.
func NewRootCmd() *cobra.Command {
	global := &helpers.GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "remoteprof",
		Short: "remoteprof - record profiling sessions from remote applications",
		Long: `Connect to an application that embeds the profiling SDK, record a
profiling session and analyze it offline.

Workflow:
- record: connect to a target, start and stop a recording
- inspect: browse stored recordings as span trees and timelines
- export: write a recording as a pprof profile

Recordings are kept in a local DuckDB store (~/.remoteprof/recordings.duckdb).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	global.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(record.NewRecordCmd(global))
	rootCmd.AddCommand(inspect.NewInspectCmd(global))
	rootCmd.AddCommand(exportcmd.NewExportCmd(global))
	rootCmd.AddCommand(schemacmd.NewSchemaCmd())
	rootCmd.AddCommand(demo.NewDemoCmd(global))
	rootCmd.AddCommand(config.NewConfigCmd(global))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "remoteprof version %s\n", version.Version)
			_, _ = fmt.Fprintf(out, "Protocol version: %s\n", version.ProtocolVersion)
			_, _ = fmt.Fprintf(out, "Git commit: %s\n", version.GitCommit)
			_, _ = fmt.Fprintf(out, "Build date: %s\n", version.BuildDate)
			_, _ = fmt.Fprintf(out, "Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
