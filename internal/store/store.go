// Package store persists decoded recordings. Two backends exist: DuckDB for
// durable recordings and an in-memory store for tests and dry runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/coral-mesh/remoteprof/internal/story"
)

// ErrNotFound is returned when a recording does not exist.
var ErrNotFound = errors.New("recording not found")

// Store is a story.Store that can also read recordings back.
type Store interface {
	story.Store

	// Recordings lists all recordings, newest first.
	Recordings(ctx context.Context) ([]story.Recording, error)
	// Load returns every entity of one recording.
	Load(ctx context.Context, recordingID string) (*Timeline, error)
	Close() error
}

// Timeline is the full content of one recording. Groups are ordered by
// start time, threads by number and samples by timestamp.
type Timeline struct {
	Recording     story.Recording
	Groups        []story.SampleGroup
	Threads       []story.ThreadInfo
	Performance   []story.PerformanceSample
	RNPerformance []story.RNPerformanceSample
	Network       []story.NetworkSample
	Logs          []story.LogSample
	Tags          []story.Tag
}

// Group returns the group with id, or nil.
func (t *Timeline) Group(id string) *story.SampleGroup {
	for i := range t.Groups {
		if t.Groups[i].ID == id {
			return &t.Groups[i]
		}
	}
	return nil
}

// Children returns the direct children of the group with parentID; an empty
// parentID selects root groups.
func (t *Timeline) Children(parentID string) []story.SampleGroup {
	var out []story.SampleGroup
	for _, g := range t.Groups {
		if g.ParentGroupID == parentID {
			out = append(out, g)
		}
	}
	return out
}

// SampleCount returns the number of samples of every kind.
func (t *Timeline) SampleCount() int {
	return len(t.Performance) + len(t.RNPerformance) + len(t.Network) + len(t.Logs) + len(t.Tags)
}

// sortTimeline puts a timeline assembled from unordered sources into the
// documented order.
func sortTimeline(t *Timeline) {
	sort.SliceStable(t.Groups, func(i, j int) bool {
		a, b := t.Groups[i], t.Groups[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID < b.ID
	})
	sort.Slice(t.Threads, func(i, j int) bool { return t.Threads[i].Number < t.Threads[j].Number })
	sortByTime(t.Performance, func(s story.PerformanceSample) (int64, string) { return s.Timestamp.UnixNano(), s.ID })
	sortByTime(t.RNPerformance, func(s story.RNPerformanceSample) (int64, string) { return s.Timestamp.UnixNano(), s.ID })
	sortByTime(t.Network, func(s story.NetworkSample) (int64, string) { return s.Timestamp.UnixNano(), s.ID })
	sortByTime(t.Logs, func(s story.LogSample) (int64, string) { return s.Timestamp.UnixNano(), s.ID })
	sortByTime(t.Tags, func(s story.Tag) (int64, string) { return s.Timestamp.UnixNano(), s.ID })
}

func sortByTime[T any](items []T, key func(T) (int64, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti != tj {
			return ti < tj
		}
		return idi < idj
	})
}

func unsupported(entity any) error {
	return fmt.Errorf("store: unsupported entity %T", entity)
}
