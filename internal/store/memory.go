package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coral-mesh/remoteprof/internal/story"
)

// Memory is a Store that keeps everything in process memory.
type Memory struct {
	mu         sync.RWMutex
	recordings map[string]*memRecording
	closed     bool
}

type memRecording struct {
	rec         story.Recording
	groups      map[string]story.SampleGroup
	threads     map[int64]story.ThreadInfo
	performance map[string]story.PerformanceSample
	rn          map[string]story.RNPerformanceSample
	network     map[string]story.NetworkSample
	logs        map[string]story.LogSample
	tags        map[string]story.Tag
}

func newMemRecording() *memRecording {
	return &memRecording{
		groups:      make(map[string]story.SampleGroup),
		threads:     make(map[int64]story.ThreadInfo),
		performance: make(map[string]story.PerformanceSample),
		rn:          make(map[string]story.RNPerformanceSample),
		network:     make(map[string]story.NetworkSample),
		logs:        make(map[string]story.LogSample),
		tags:        make(map[string]story.Tag),
	}
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recordings: make(map[string]*memRecording)}
}

var errClosed = errors.New("store is closed")

func (m *Memory) Begin(context.Context) (story.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	return &memBatch{store: m}, nil
}

// memBatch stages copies of entities until Commit.
type memBatch struct {
	store   *Memory
	pending []any
	done    bool
}

func (b *memBatch) CreateOrUpdate(_ context.Context, entity any) error {
	if b.done {
		return errors.New("batch already finished")
	}
	switch e := entity.(type) {
	case *story.Recording:
		b.pending = append(b.pending, *e)
	case *story.SampleGroup:
		b.pending = append(b.pending, *e)
	case *story.ThreadInfo:
		b.pending = append(b.pending, *e)
	case *story.PerformanceSample:
		b.pending = append(b.pending, *e)
	case *story.RNPerformanceSample:
		b.pending = append(b.pending, *e)
	case *story.NetworkSample:
		b.pending = append(b.pending, *e)
	case *story.LogSample:
		b.pending = append(b.pending, *e)
	case *story.Tag:
		b.pending = append(b.pending, *e)
	default:
		return unsupported(entity)
	}
	return nil
}

func (b *memBatch) Commit() error {
	if b.done {
		return errors.New("batch already finished")
	}
	b.done = true

	m := b.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for _, entity := range b.pending {
		if err := m.apply(entity); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBatch) Rollback() error {
	b.done = true
	b.pending = nil
	return nil
}

// recording returns the bucket for id. Callers hold m.mu.
func (m *Memory) recording(id string) *memRecording {
	r, ok := m.recordings[id]
	if !ok {
		r = newMemRecording()
		r.rec.ID = id
		m.recordings[id] = r
	}
	return r
}

func (m *Memory) apply(entity any) error {
	switch e := entity.(type) {
	case story.Recording:
		m.recording(e.ID).rec = e
	case story.SampleGroup:
		m.recording(e.RecordingID).groups[e.ID] = e
	case story.ThreadInfo:
		m.recording(e.RecordingID).threads[e.Number] = e
	case story.PerformanceSample:
		m.recording(e.RecordingID).performance[e.ID] = e
	case story.RNPerformanceSample:
		m.recording(e.RecordingID).rn[e.ID] = e
	case story.NetworkSample:
		m.recording(e.RecordingID).network[e.ID] = e
	case story.LogSample:
		m.recording(e.RecordingID).logs[e.ID] = e
	case story.Tag:
		m.recording(e.RecordingID).tags[e.ID] = e
	default:
		return unsupported(entity)
	}
	return nil
}

func (m *Memory) Recordings(context.Context) ([]story.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]story.Recording, 0, len(m.recordings))
	for _, r := range m.recordings {
		if !r.rec.StartTime.IsZero() {
			out = append(out, r.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Load(_ context.Context, recordingID string) (*Timeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recordings[recordingID]
	if !ok || r.rec.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordingID)
	}
	t := &Timeline{
		Recording:     r.rec,
		Groups:        values(r.groups),
		Threads:       values(r.threads),
		Performance:   values(r.performance),
		RNPerformance: values(r.rn),
		Network:       values(r.network),
		Logs:          values(r.logs),
		Tags:          values(r.tags),
	}
	sortTimeline(t)
	return t, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func values[K comparable, V any](in map[K]V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}
