package live

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// snapshotMsg carries the result of one poll.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// tickMsg schedules the next poll.
type tickMsg struct{}

func pollCmd(source SourceFunc) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := source(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
