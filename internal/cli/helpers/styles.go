package helpers

import "github.com/charmbracelet/lipgloss"

// Styles used by human-readable command output. Colors degrade to plain
// text when stdout is not a terminal.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(14)

	HotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	OKStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// KeyValue renders one aligned "label value" line.
func KeyValue(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), lipgloss.NewStyle().Render(stringify(value))) + "\n"
}
