package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/pkg/version"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"record", "inspect", "export", "schema", "demo-target", "config", "version"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config-dir", "log-level", "log-pretty", "store", "store-path"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCmd(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "remoteprof version "+version.Version)
	assert.Contains(t, out.String(), "Protocol version: "+version.ProtocolVersion)
}
