package live

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
)

func staticSource(snap Snapshot, err error) SourceFunc {
	return func(context.Context) (Snapshot, error) { return snap, err }
}

func newTestModel(source SourceFunc) Model {
	m := NewModel("127.0.0.1:7330", source, time.Second)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.started = start
	m.now = func() time.Time { return start.Add(42 * time.Second) }
	return m
}

func TestModel_PollUpdatesSnapshot(t *testing.T) {
	summary := &helpers.RecordingSummary{ID: "rec-1", Name: "checkout", Groups: 4, OpenGroups: 1, Performance: 12, Tags: 2}
	m := newTestModel(staticSource(Snapshot{State: "recording", Summary: summary}, nil))

	msg := pollCmd(m.source)()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd, "a poll schedules the next tick")
	m = next.(Model)

	assert.Equal(t, 1, m.polls)
	view := m.View()
	assert.Contains(t, view, "Recording from 127.0.0.1:7330")
	assert.Contains(t, view, "42s")
	assert.Contains(t, view, "recording")
	assert.Contains(t, view, "checkout")
	assert.Contains(t, view, "4 (1 open)")
	assert.Contains(t, view, "12")
}

func TestModel_PollErrorKeepsLastSnapshot(t *testing.T) {
	m := newTestModel(nil)
	m.snap = Snapshot{State: "recording"}

	next, _ := m.Update(snapshotMsg{err: errors.New("store busy")})
	m = next.(Model)

	assert.Equal(t, "recording", m.snap.State)
	assert.Contains(t, m.View(), "store busy")
}

func TestModel_WaitingForRecording(t *testing.T) {
	m := newTestModel(nil)
	view := m.View()
	assert.Contains(t, view, "waiting for the target")
	assert.Contains(t, view, "waiting...")
}

func TestModel_StopKeys(t *testing.T) {
	keys := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("s")},
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEnter},
		{Type: tea.KeyCtrlC},
	}
	for _, key := range keys {
		t.Run(key.String(), func(t *testing.T) {
			m := newTestModel(nil)
			next, cmd := m.Update(key)
			m = next.(Model)
			assert.True(t, m.StopRequested())
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
			assert.Equal(t, "Stopping recording...\n", m.View())
		})
	}
}

func TestModel_OtherKeysIgnored(t *testing.T) {
	m := newTestModel(nil)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).StopRequested())
}

func TestModel_TickPolls(t *testing.T) {
	m := newTestModel(staticSource(Snapshot{State: "stopped"}, nil))
	_, cmd := m.Update(tickMsg{})
	require.NotNil(t, cmd)
	msg, ok := cmd().(snapshotMsg)
	require.True(t, ok)
	assert.Equal(t, "stopped", msg.snap.State)
}
