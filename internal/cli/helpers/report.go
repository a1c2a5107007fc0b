package helpers

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/coral-mesh/remoteprof/internal/store"
)

// reportTopGroups is the number of spans listed under "Hottest spans".
const reportTopGroups = 5

// Report renders tl as a Markdown document.
func Report(tl *store.Timeline) string {
	s := Summarize(tl)
	var b strings.Builder

	title := s.Name
	if title == "" {
		title = s.ID
	}
	fmt.Fprintf(&b, "# Recording %s\n\n", mdEscape(title))

	status := "stopped"
	if !s.Stopped {
		status = "**incomplete**"
	}
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| ID | `%s` |\n", s.ID)
	fmt.Fprintf(&b, "| App | %s |\n", mdEscape(orDash(s.App)))
	fmt.Fprintf(&b, "| Device | %s |\n", mdEscape(orDash(s.Device)))
	fmt.Fprintf(&b, "| Started | %s |\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "| Duration | %s |\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "| Status | %s |\n", status)
	fmt.Fprintf(&b, "| Groups | %d (%d open) |\n", s.Groups, s.OpenGroups)
	fmt.Fprintf(&b, "| Samples | %d |\n\n", s.Performance)

	roots := BuildGroupTree(tl)
	total := s.Duration
	if total == 0 {
		for _, r := range roots {
			total += r.Total
		}
	}
	if hot := hottest(roots, reportTopGroups); len(hot) > 0 {
		b.WriteString("## Hottest spans\n\n")
		b.WriteString("| Span | Thread | Self | Total | Share |\n|---|---|---|---|---|\n")
		for _, n := range hot {
			share := 0.0
			if total > 0 {
				share = float64(n.Self) / float64(total) * 100
			}
			name := mdEscape(n.Group.Name)
			if share >= HotThreshold*100 {
				name = "**" + name + "**"
			}
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %.1f%% |\n",
				name, n.Group.ThreadNumber, FormatDuration(n.Self), FormatDuration(n.Total), share)
		}
		b.WriteString("\n")
	}

	var failed []string
	for _, n := range tl.Network {
		switch {
		case n.ResponseError != "":
			failed = append(failed, fmt.Sprintf("- `%s %s`: %s", n.Method, n.URL, mdEscape(n.ResponseError)))
		case n.ResponseStatusCode >= 400:
			failed = append(failed, fmt.Sprintf("- `%s %s`: HTTP %d", n.Method, n.URL, n.ResponseStatusCode))
		}
	}
	if len(tl.Network) > 0 {
		fmt.Fprintf(&b, "## Network\n\n%d requests, %d failed.\n\n", len(tl.Network), len(failed))
		for _, line := range failed {
			b.WriteString(line + "\n")
		}
		if len(failed) > 0 {
			b.WriteString("\n")
		}
	}

	if len(tl.Tags) > 0 {
		b.WriteString("## Tags\n\n")
		for _, tag := range tl.Tags {
			fmt.Fprintf(&b, "- %s at +%s\n", mdEscape(tag.Name), FormatDuration(tag.Timestamp.Sub(s.StartTime)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// hottest returns up to n groups ordered by self time, skipping the main
// thread's root group.
func hottest(roots []*GroupNode, n int) []*GroupNode {
	var all []*GroupNode
	var walk func(node *GroupNode)
	walk = func(node *GroupNode) {
		if !node.Group.IsRootGroup || node.Group.ThreadNumber != 0 {
			all = append(all, node)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Self > all[j].Self })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

var mdReplacer = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "`", "'")

func mdEscape(s string) string { return mdReplacer.Replace(s) }

// RenderMarkdown renders md for the terminal. Styling is disabled when
// NO_COLOR is set or color is false.
func RenderMarkdown(md string, color bool) (string, error) {
	rendererOpts := []glamour.TermRendererOption{glamour.WithWordWrap(100)}
	if !color || os.Getenv("NO_COLOR") != "" {
		rendererOpts = append(rendererOpts, glamour.WithStylePath("notty"))
	} else {
		rendererOpts = append(rendererOpts, glamour.WithAutoStyle())
	}

	renderer, err := glamour.NewTermRenderer(rendererOpts...)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
