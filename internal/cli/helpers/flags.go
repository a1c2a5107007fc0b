package helpers

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

// AddFormatFlag registers --format/-o with shell completion of the
// supported formats.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	names := formatNames(supportedFormats)
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		"Output format ("+strings.Join(names, ", ")+")")

	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(names, cobra.ShellCompDirectiveNoFileComp))
}

// AddVerboseFlag registers --verbose/-v.
func AddVerboseFlag(cmd *cobra.Command, verboseVar *bool) {
	cmd.Flags().BoolVarP(verboseVar, "verbose", "v", false, "Show network requests, logs and tags")
}

// ValidateFormat rejects formats outside supported.
func ValidateFormat(format string, supported []OutputFormat) error {
	names := formatNames(supported)
	if slices.Contains(names, format) {
		return nil
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s", format, strings.Join(names, ", "))
}
