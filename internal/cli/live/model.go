// Package live renders a terminal view of a recording in progress.
package live

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
)

// Snapshot is the state of a recording at one poll.
type Snapshot struct {
	State    string
	LastSeen time.Time
	// Summary is nil until the target has created a recording.
	Summary *helpers.RecordingSummary
}

// SourceFunc takes a snapshot of the recording.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Model is the Bubbletea model of the live view.
type Model struct {
	address  string
	source   SourceFunc
	interval time.Duration
	now      func() time.Time

	started time.Time
	spinner spinner.Model
	snap    Snapshot
	polls   int

	lastError error
	width     int

	stopRequested bool
	quitting      bool
}

// NewModel creates a view of the recording at address, polling source
// every interval.
func NewModel(address string, source SourceFunc, interval time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		address:  address,
		source:   source,
		interval: interval,
		now:      time.Now,
		started:  time.Now(),
		spinner:  s,
		width:    80,
	}
}

// StopRequested reports whether the user asked to stop recording.
func (m Model) StopRequested() bool { return m.stopRequested }

// Init starts the spinner and the first poll (Bubbletea interface).
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		pollCmd(m.source),
	)
}

// Run shows the view until the user quits it or ctx ends and returns the
// final model.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) (Model, error) {
	p := tea.NewProgram(m, opts...)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	final, err := p.Run()
	if err != nil {
		return m, err
	}
	if fm, ok := final.(Model); ok {
		return fm, nil
	}
	return m, nil
}
