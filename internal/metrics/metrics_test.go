package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TargetConnected()
	m.TargetConnected()
	m.TargetDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.targetsConnected))

	m.Command("Ping", nil)
	m.Command("Ping", errors.New("timeout"))
	m.Command("Ping", nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("Ping", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("Ping", ResultError)))

	m.StoryEvent("addTag", ResultOK, time.Millisecond)
	m.StoryEvent("popSampleGroup", ResultSequencing, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storyEvents.WithLabelValues("popSampleGroup", ResultSequencing)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.decodeDuration))

	m.ProtocolError()
	m.DroppedEvents(3)
	m.DroppedEvents(0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.droppedEvents))

	expected := `
# HELP remoteprof_protocol_errors_total Connections closed because of malformed frames.
# TYPE remoteprof_protocol_errors_total counter
remoteprof_protocol_errors_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "remoteprof_protocol_errors_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TargetConnected()
		m.TargetDisconnected()
		m.Command("Ping", nil)
		m.StoryEvent("addTag", ResultOK, time.Second)
		m.ProtocolError()
		m.DroppedEvents(1)
	})
}

func TestNew_WithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ProtocolError()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
}
