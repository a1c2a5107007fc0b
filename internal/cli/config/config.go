// Package config implements the 'remoteprof config' command family.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/config"
	"github.com/coral-mesh/remoteprof/internal/constants"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd(global *helpers.GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage remoteprof configuration",
		Long: `Manage remoteprof configuration.

Configuration Priority:
  1. Command-line flags (highest)
  2. REMOTEPROF_* environment variables
  3. Config file (~/.remoteprof/config.yaml)
  4. Built-in defaults

Environment Variables:
  REMOTEPROF_CONFIG    Override the base directory (default: home)`,
	}

	cmd.AddCommand(newViewCmd(global))
	cmd.AddCommand(newInitCmd(global))
	cmd.AddCommand(newValidateCmd(global))
	cmd.AddCommand(newPathCmd(global))

	return cmd
}

// newViewCmd creates the 'config view' command.
func newViewCmd(global *helpers.GlobalFlags) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Long: `Display the configuration after defaults, the config file and
environment variables are merged.

Use --raw to output the merged config without annotations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(global.Loader(), raw, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Output raw YAML without annotations")
	return cmd
}

func runView(loader *config.Loader, raw bool, out io.Writer) error {
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if !raw {
		_, _ = fmt.Fprintf(out, "# Config file: %s (%s)\n", loader.ConfigPath(), fileState(loader.ConfigPath()))
		_, _ = fmt.Fprintln(out, "# Sources (priority order): flags, environment, config file, defaults")
		_, _ = fmt.Fprintln(out)
	}
	_, err = out.Write(data)
	return err
}

func fileState(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "not present"
	}
	return "present"
}

// newInitCmd creates the 'config init' command.
func newInitCmd(global *helpers.GlobalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(global.Loader(), force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(loader *config.Loader, force bool, out io.Writer) error {
	path := loader.ConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if cfg.Store.Driver == constants.StoreDuckDB {
		cfg.Store.Path = loader.DatabasePath()
	}
	if err := loader.Save(cfg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

// newValidateCmd creates the 'config validate' command.
func newValidateCmd(global *helpers.GlobalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Validate the merged configuration and report every invalid setting.

Checks:
- Log level and store driver names
- Frame size limits
- Dial and heartbeat settings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(global.Loader(), format, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})

	return cmd
}

type validationResult struct {
	Field string `json:"field" header:"FIELD"`
	Error string `json:"error" header:"ERROR"`
}

func runValidate(loader *config.Loader, format string, out io.Writer) error {
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	verr := cfg.Validate()
	results := []validationResult{}
	var multi *config.MultiValidationError
	switch {
	case errors.As(verr, &multi):
		for _, e := range multi.Errors {
			results = append(results, validationResult{Field: e.Field, Error: e.Message})
		}
	case verr != nil:
		results = append(results, validationResult{Error: verr.Error()})
	}

	if format != string(helpers.FormatTable) {
		output := struct {
			Path   string             `json:"path"`
			Valid  bool               `json:"valid"`
			Errors []validationResult `json:"errors"`
		}{
			Path:   loader.ConfigPath(),
			Valid:  len(results) == 0,
			Errors: results,
		}
		formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
		if err != nil {
			return err
		}
		if err := formatter.Format(output, out); err != nil {
			return err
		}
	} else if len(results) == 0 {
		_, _ = fmt.Fprintf(out, "%s: valid\n", loader.ConfigPath())
	} else {
		for _, r := range results {
			_, _ = fmt.Fprintf(out, "  %s: %s\n", r.Field, r.Error)
		}
		_, _ = fmt.Fprintln(out)
	}

	if len(results) > 0 {
		return fmt.Errorf("validation failed with %d errors", len(results))
	}
	return nil
}

// newPathCmd creates the 'config path' command.
func newPathCmd(global *helpers.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), global.Loader().ConfigPath())
		},
	}
}
