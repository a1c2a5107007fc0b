package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/coral-mesh/remoteprof/internal/cli/helpers"
)

var (
	// Styles.
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// View renders the UI (Bubbletea interface).
func (m Model) View() string {
	if m.quitting {
		return "Stopping recording...\n"
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), promptStyle.Render("Recording from "+m.address)))
	b.WriteString(strings.Repeat("─", min(m.width, 60)))
	b.WriteString("\n")

	b.WriteString(helpers.KeyValue("Elapsed", m.now().Sub(m.started).Truncate(time.Second).String()))
	b.WriteString(helpers.KeyValue("Target", orWaiting(m.snap.State)))
	if !m.snap.LastSeen.IsZero() {
		b.WriteString(helpers.KeyValue("Last seen", m.now().Sub(m.snap.LastSeen).Truncate(time.Millisecond).String()+" ago"))
	}

	if s := m.snap.Summary; s != nil {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		b.WriteString(helpers.KeyValue("Recording", name))
		b.WriteString(helpers.KeyValue("Groups", fmt.Sprintf("%d (%d open)", s.Groups, s.OpenGroups)))
		b.WriteString(helpers.KeyValue("Samples", s.Performance))
		b.WriteString(helpers.KeyValue("Network", s.Network))
		b.WriteString(helpers.KeyValue("Logs", s.Logs))
		b.WriteString(helpers.KeyValue("Tags", s.Tags))
	} else {
		b.WriteString(helpers.KeyValue("Recording", "waiting for the target..."))
	}

	if m.lastError != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ Error: %v", m.lastError)))
		b.WriteString("\n")
	}

	b.WriteString(hintStyle.Render("\n[s or Ctrl+C to stop recording]"))
	return b.String()
}

func orWaiting(s string) string {
	if s == "" {
		return "waiting..."
	}
	return s
}
