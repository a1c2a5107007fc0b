// Package schemacmd implements the 'remoteprof schema' command.
package schemacmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// entityTypes maps wire entity names to the decoded Go types.
var entityTypes = map[string]any{
	schema.EntityRecording:           &story.Recording{},
	schema.EntitySampleGroup:         &story.SampleGroup{},
	schema.EntityThreadInfo:          &story.ThreadInfo{},
	schema.EntityPerformanceSample:   &story.PerformanceSample{},
	schema.EntityRNPerformanceSample: &story.RNPerformanceSample{},
	schema.EntityNetworkSample:       &story.NetworkSample{},
	schema.EntityLogSample:           &story.LogSample{},
	schema.EntityTag:                 &story.Tag{},
}

// NewSchemaCmd creates the schema command.
func NewSchemaCmd() *cobra.Command {
	var wire bool

	cmd := &cobra.Command{
		Use:   "schema [entity]",
		Short: "Print the schema of story entities",
		Long: `Print a JSON Schema for each decoded story entity, as stored and as
emitted by 'inspect -o json'.

With --wire, print the built-in wire descriptors instead: the fields a
producer sends for each entity, their types and the descriptor fingerprint.`,
		Example: `  remoteprof schema
  remoteprof schema SampleGroup
  remoteprof schema --wire`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entity string
			if len(args) == 1 {
				entity = args[0]
			}
			if wire {
				return PrintWire(cmd.OutOrStdout(), entity)
			}
			return PrintJSONSchema(cmd.OutOrStdout(), entity)
		},
	}

	cmd.Flags().BoolVar(&wire, "wire", false, "Print wire descriptors instead of JSON Schema")
	return cmd
}

// JSONSchemas returns the JSON Schema of every decoded entity, or of one
// entity when name is set.
func JSONSchemas(name string) (map[string]*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	out := make(map[string]*jsonschema.Schema)
	for entity, typ := range entityTypes {
		if name != "" && !strings.EqualFold(name, entity) {
			continue
		}
		s := reflector.Reflect(typ)
		s.Title = entity
		out[entity] = s
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unknown entity %q (known: %s)", name, strings.Join(entityNames(), ", "))
	}
	return out, nil
}

// PrintJSONSchema writes JSONSchemas(name) as indented JSON.
func PrintJSONSchema(w io.Writer, name string) error {
	schemas, err := JSONSchemas(name)
	if err != nil {
		return err
	}
	return (&helpers.JSONFormatter{}).Format(schemas, w)
}

type descriptorRow struct {
	Entity      string `header:"ENTITY"`
	Version     uint32 `header:"VERSION"`
	Fingerprint string `header:"FINGERPRINT"`
	Field       string `header:"FIELD"`
	Type        string `header:"TYPE"`
	Required    bool   `header:"REQUIRED"`
}

// PrintWire writes the built-in wire descriptors as a table.
func PrintWire(w io.Writer, name string) error {
	var rows []descriptorRow
	for _, entity := range schema.Entities() {
		if name != "" && !strings.EqualFold(name, entity) {
			continue
		}
		d := schema.Builtin(entity)
		fp := fmt.Sprintf("%016x", d.Fingerprint())
		for _, f := range d.Fields {
			rows = append(rows, descriptorRow{
				Entity:      d.Entity,
				Version:     d.Version,
				Fingerprint: fp,
				Field:       f.Name,
				Type:        f.Type.String(),
				Required:    !f.Optional,
			})
		}
	}
	if len(rows) == 0 {
		return fmt.Errorf("unknown entity %q (known: %s)", name, strings.Join(schema.Entities(), ", "))
	}
	return (&helpers.TableFormatter{}).Format(rows, w)
}

func entityNames() []string {
	names := make([]string, 0, len(entityTypes))
	for name := range entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
