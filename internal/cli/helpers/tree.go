package helpers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coral-mesh/remoteprof/internal/store"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// HotThreshold is the share of the recording's duration above which a
// group's self time is highlighted.
const HotThreshold = 0.20

// GroupNode is one sample group with its computed timings.
type GroupNode struct {
	Group    story.SampleGroup
	Total    time.Duration
	Self     time.Duration
	Open     bool
	Samples  int
	Children []*GroupNode
}

// BuildGroupTree arranges the groups of tl into trees rooted at the groups
// without a parent. Open groups are measured up to the recording end, or
// the last group timestamp when the recording never ended.
func BuildGroupTree(tl *store.Timeline) []*GroupNode {
	end := timelineEnd(tl)

	nodes := make(map[string]*GroupNode, len(tl.Groups))
	for _, g := range tl.Groups {
		n := &GroupNode{Group: g, Open: !g.Closed()}
		stop := end
		if g.EndTime != nil {
			stop = *g.EndTime
		}
		if stop.After(g.StartTime) {
			n.Total = stop.Sub(g.StartTime)
		}
		nodes[g.ID] = n
	}
	for _, s := range tl.Performance {
		if n, ok := nodes[s.ParentGroupID]; ok {
			n.Samples++
		}
	}

	var roots []*GroupNode
	for _, g := range tl.Groups {
		n := nodes[g.ID]
		parent, ok := nodes[g.ParentGroupID]
		if !ok || g.ParentGroupID == "" {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	var settle func(n *GroupNode)
	settle = func(n *GroupNode) {
		sort.SliceStable(n.Children, func(i, j int) bool {
			return n.Children[i].Group.StartTime.Before(n.Children[j].Group.StartTime)
		})
		n.Self = n.Total
		for _, c := range n.Children {
			settle(c)
			n.Self -= c.Total
		}
		if n.Self < 0 {
			n.Self = 0
		}
	}
	for _, r := range roots {
		settle(r)
	}
	return roots
}

func timelineEnd(tl *store.Timeline) time.Time {
	if tl.Recording.EndTime != nil {
		return *tl.Recording.EndTime
	}
	end := tl.Recording.StartTime
	for _, g := range tl.Groups {
		if g.StartTime.After(end) {
			end = g.StartTime
		}
		if g.EndTime != nil && g.EndTime.After(end) {
			end = *g.EndTime
		}
	}
	return end
}

// RenderGroupTree renders the group trees in ASCII art format. total is
// used to calculate percentages.
func RenderGroupTree(roots []*GroupNode, total time.Duration) string {
	if len(roots) == 0 {
		return "No sample groups recorded.\n"
	}

	var buf strings.Builder
	for i, r := range roots {
		renderGroupNode(&buf, r, "", i == len(roots)-1, total)
	}
	buf.WriteString("\n" + renderTreeLegend())
	return buf.String()
}

func renderGroupNode(buf *strings.Builder, node *GroupNode, prefix string, isLast bool, total time.Duration) {
	connector := "├─"
	childPrefix := prefix + "│ "
	if isLast {
		connector = "└─"
		childPrefix = prefix + "  "
	}

	pct := 0.0
	if total > 0 {
		pct = float64(node.Self) / float64(total) * 100
	}

	line := fmt.Sprintf("%s (total %s, self %s, %.1f%%",
		node.Group.Name, FormatDuration(node.Total), FormatDuration(node.Self), pct)
	if node.Samples > 0 {
		line += fmt.Sprintf(", %d samples", node.Samples)
	}
	line += ")"
	if node.Group.ThreadNumber != 0 {
		line += MutedStyle.Render(fmt.Sprintf(" [thread %d]", node.Group.ThreadNumber))
	}
	if node.Open {
		line += WarnStyle.Render(" OPEN")
	}
	if total > 0 && float64(node.Self) > HotThreshold*float64(total) {
		line += HotStyle.Render(" ← HOT")
	}
	fmt.Fprintf(buf, "%s%s %s\n", prefix, connector, line)

	for i, c := range node.Children {
		renderGroupNode(buf, c, childPrefix, i == len(node.Children)-1, total)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func renderTreeLegend() string {
	return `Legend:
  ├─ = intermediate group   │  = continuation
  └─ = last child           ← HOT = self time above 20% of the recording
  OPEN = group never popped, measured to the recording end
`
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Duration:
		return FormatDuration(x)
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Local().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}
