package live

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model (Bubbletea interface).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.polls++
		if msg.err != nil {
			m.lastError = msg.err
		} else {
			m.lastError = nil
			m.snap = msg.snap
		}
		return m, tickCmd(m.interval)

	case tickMsg:
		return m, pollCmd(m.source)
	}
	return m, nil
}

// handleKeyMsg handles keyboard input.
func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "s", "q", "enter", "ctrl+c":
		m.stopRequested = true
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}
