// Package export converts recorded timelines into formats other tools read.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/remoteprof/internal/store"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// Sample value indices of profiles built by PProf.
const (
	ValueCount = iota
	ValueSelf
	ValueTotal
)

// PProf builds a wall-time profile from the sample group tree of tl. Every
// group contributes one sample whose stack is the group and its ancestors,
// leaf first, valued by self time and total time in nanoseconds. Groups
// still open are cut at the recording end, or skipped when the recording
// has no end.
func PProf(tl *store.Timeline) (*profile.Profile, error) {
	rec := tl.Recording
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "self", Unit: "nanoseconds"},
			{Type: "total", Unit: "nanoseconds"},
		},
		PeriodType:        &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:            1,
		DefaultSampleType: "self",
		Comments:          []string{"recording " + rec.ID},
	}
	if rec.Name != "" {
		prof.Comments = append(prof.Comments, "name "+rec.Name)
	}
	if rec.AppName != "" {
		prof.Comments = append(prof.Comments, "app "+rec.AppName)
	}
	if !rec.StartTime.IsZero() {
		prof.TimeNanos = rec.StartTime.UnixNano()
		if rec.EndTime != nil {
			prof.DurationNanos = rec.EndTime.Sub(rec.StartTime).Nanoseconds()
		}
	}

	threads := make(map[int64]string, len(tl.Threads))
	for _, th := range tl.Threads {
		threads[th.Number] = th.Name
	}

	b := newBuilder(prof)
	totals := make(map[string]time.Duration, len(tl.Groups))
	for _, g := range tl.Groups {
		if d, ok := span(g, rec.EndTime); ok {
			totals[g.ID] = d
		}
	}
	childTime := make(map[string]time.Duration)
	for _, g := range tl.Groups {
		if d, ok := totals[g.ID]; ok && g.ParentGroupID != "" {
			childTime[g.ParentGroupID] += d
		}
	}

	for _, g := range tl.Groups {
		total, ok := totals[g.ID]
		if !ok {
			continue
		}
		self := total - childTime[g.ID]
		if self < 0 {
			self = 0
		}

		stack, err := b.stack(tl, g)
		if err != nil {
			return nil, err
		}
		sample := &profile.Sample{
			Location: stack,
			Value:    []int64{1, self.Nanoseconds(), total.Nanoseconds()},
			Label:    map[string][]string{"recording": {rec.ID}},
		}
		if name, ok := threads[g.ThreadNumber]; ok && name != "" {
			sample.Label["thread"] = []string{name}
		}
		prof.Sample = append(prof.Sample, sample)
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return prof, nil
}

// WritePProf writes the gzip-compressed profile of tl to w.
func WritePProf(w io.Writer, tl *store.Timeline) error {
	prof, err := PProf(tl)
	if err != nil {
		return err
	}
	return prof.Write(w)
}

func span(g story.SampleGroup, recordingEnd *time.Time) (time.Duration, bool) {
	end := g.EndTime
	if end == nil {
		end = recordingEnd
	}
	if end == nil || g.StartTime.IsZero() {
		return 0, false
	}
	d := end.Sub(g.StartTime)
	if d < 0 {
		d = 0
	}
	return d, true
}

// builder interns one location per group and one function per group name.
type builder struct {
	prof      *profile.Profile
	locations map[string]*profile.Location
	functions map[string]*profile.Function
}

func newBuilder(prof *profile.Profile) *builder {
	return &builder{
		prof:      prof,
		locations: make(map[string]*profile.Location),
		functions: make(map[string]*profile.Function),
	}
}

func (b *builder) stack(tl *store.Timeline, g story.SampleGroup) ([]*profile.Location, error) {
	var stack []*profile.Location
	seen := make(map[string]bool)
	for cur := &g; cur != nil; {
		if seen[cur.ID] {
			return nil, fmt.Errorf("sample group %s: parent cycle", g.ID)
		}
		seen[cur.ID] = true
		stack = append(stack, b.location(*cur))
		if cur.ParentGroupID == "" {
			break
		}
		cur = tl.Group(cur.ParentGroupID)
	}
	return stack, nil
}

func (b *builder) location(g story.SampleGroup) *profile.Location {
	if loc, ok := b.locations[g.ID]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:   uint64(len(b.prof.Location) + 1),
		Line: []profile.Line{{Function: b.function(groupName(g))}},
	}
	b.locations[g.ID] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}

func (b *builder) function(name string) *profile.Function {
	if fn, ok := b.functions[name]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(b.prof.Function) + 1),
		Name:       name,
		SystemName: name,
	}
	b.functions[name] = fn
	b.prof.Function = append(b.prof.Function, fn)
	return fn
}

func groupName(g story.SampleGroup) string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}

// TopEntry is one row of a Top report.
type TopEntry struct {
	Name  string
	Self  time.Duration
	Total time.Duration
	Count int64
	Pct   float64
}

// Top aggregates a profile built by PProf by leaf function and returns the n
// heaviest entries by self time. n <= 0 returns all of them.
func Top(prof *profile.Profile, n int) []TopEntry {
	byName := make(map[string]*TopEntry)
	var totalSelf int64
	for _, s := range prof.Sample {
		if len(s.Location) == 0 || len(s.Location[0].Line) == 0 || len(s.Value) <= ValueTotal {
			continue
		}
		fn := s.Location[0].Line[0].Function
		if fn == nil {
			continue
		}
		e, ok := byName[fn.Name]
		if !ok {
			e = &TopEntry{Name: fn.Name}
			byName[fn.Name] = e
		}
		e.Count += s.Value[ValueCount]
		e.Self += time.Duration(s.Value[ValueSelf])
		e.Total += time.Duration(s.Value[ValueTotal])
		totalSelf += s.Value[ValueSelf]
	}

	entries := make([]TopEntry, 0, len(byName))
	for _, e := range byName {
		if totalSelf > 0 {
			e.Pct = float64(e.Self) / float64(totalSelf) * 100
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Self != entries[j].Self {
			return entries[i].Self > entries[j].Self
		}
		return entries[i].Name < entries[j].Name
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
