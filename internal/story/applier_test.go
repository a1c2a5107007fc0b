package story

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// fakeStore keeps committed rows keyed by entity type and identity.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]any
	commits    int
	rollbacks  int
	failCommit error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]any)}
}

func rowKey(entity any) string {
	switch e := entity.(type) {
	case *Recording:
		return "recording/" + e.ID
	case *SampleGroup:
		return "group/" + e.ID
	case *ThreadInfo:
		return fmt.Sprintf("thread/%s/%d", e.RecordingID, e.Number)
	case *PerformanceSample:
		return "perf/" + e.ID
	case *RNPerformanceSample:
		return "rn/" + e.ID
	case *NetworkSample:
		return "network/" + e.ID
	case *LogSample:
		return "log/" + e.ID
	case *Tag:
		return "tag/" + e.ID
	}
	panic(fmt.Sprintf("unexpected entity %T", entity))
}

func (s *fakeStore) Begin(context.Context) (Batch, error) {
	return &fakeBatch{store: s, rows: make(map[string]any)}, nil
}

func (s *fakeStore) get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key]
}

type fakeBatch struct {
	store *fakeStore
	rows  map[string]any
}

func (b *fakeBatch) CreateOrUpdate(_ context.Context, entity any) error {
	b.rows[rowKey(entity)] = entity
	return nil
}

func (b *fakeBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.failCommit != nil {
		return b.store.failCommit
	}
	for k, v := range b.rows {
		b.store.rows[k] = v
	}
	b.store.commits++
	return nil
}

func (b *fakeBatch) Rollback() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.rollbacks++
	return nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return t0.Add(offset) }

// harness wires an Encoder straight into an Applier.
type harness struct {
	store   *fakeStore
	applier *Applier
	enc     *Encoder
	errs    []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: newFakeStore()}
	h.applier = NewApplier(h.store, zerolog.Nop())
	h.applier.now = func() time.Time { return at(time.Hour) }
	h.enc = NewEncoder(EmitterFunc(func(env *wire.Envelope) error {
		// Round-trip through the codec so the test covers the wire too.
		b, err := wire.Encode(env)
		require.NoError(t, err)
		decoded, err := wire.Decode(b)
		require.NoError(t, err)
		ev, err := EventFromEnvelope(decoded)
		require.NoError(t, err)
		h.errs = append(h.errs, Dispatch(context.Background(), h.applier, ev))
		return nil
	}))
	return h
}

func (h *harness) lastErr() error { return h.errs[len(h.errs)-1] }

func (h *harness) createRecording(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.enc.CreateRecording(&Recording{ID: id, Name: "run", StartTime: at(0)}))
	require.NoError(t, h.lastErr())
}

func TestApplier_BasicScenario(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.enc.CreateRecording(&Recording{ID: "R1", StartTime: at(0), AppName: "demo", DeviceOSType: OSiOS}))
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(time.Second)}, true))
	require.NoError(t, h.enc.AddPerformanceSample(&PerformanceSample{ID: "P1", RecordingID: "R1", ParentGroupID: "G1", Timestamp: at(2 * time.Second), CPUUsage: 12.5, MemoryUsage: 1024}))
	require.NoError(t, h.enc.PopSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(time.Second), EndTime: ptr(at(3 * time.Second))}))
	require.NoError(t, h.enc.UpdateRecording(&Recording{ID: "R1", StartTime: at(0)}, true))

	for i, err := range h.errs {
		require.NoError(t, err, "event %d", i)
	}

	rec := h.store.get("recording/R1").(*Recording)
	assert.True(t, rec.Stopped)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, "demo", rec.AppName)
	assert.Equal(t, OSiOS, rec.DeviceOSType)

	g := h.store.get("group/G1").(*SampleGroup)
	assert.True(t, g.IsRootGroup)
	require.NotNil(t, g.EndTime)
	assert.True(t, g.EndTime.Equal(at(3*time.Second)))

	p := h.store.get("perf/P1").(*PerformanceSample)
	assert.Equal(t, "G1", p.ParentGroupID)
	assert.InDelta(t, 12.5, p.CPUUsage, 1e-9)
	assert.False(t, p.Advanced)

	assert.Empty(t, h.applier.ActiveRecordings())
}

func ptr[T any](v T) *T { return &v }

func TestApplier_RoundTripAllEvents(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	root := &SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(time.Second)}
	child := &SampleGroup{ID: "G2", RecordingID: "R1", Name: "child", StartTime: at(2 * time.Second)}
	thread := &ThreadInfo{RecordingID: "R1", Number: 7, Name: "worker"}
	adv := &PerformanceSample{
		ID: "P1", RecordingID: "R1", ParentGroupID: "G2", Timestamp: at(3 * time.Second),
		ThreadNumber: 7, CPUUsage: 55.5, MemoryUsage: 4096, FPS: 59.9, DiskReads: 3, DiskWrites: 4,
		Advanced: true, ThreadCount: 12, HeaviestThreadNumber: ptr(int64(7)),
		HeaviestStackTrace: []string{"main", "work", "spin"},
	}
	rn := &RNPerformanceSample{
		ID: "RN1", RecordingID: "R1", ParentGroupID: "G2", Timestamp: at(3 * time.Second),
		CPUUsage: 9.5, BridgeJSToNativeCallCount: 1, BridgeNativeToJSCallCount: 2,
		BridgeJSToNativeDataSize: 3, BridgeNativeToJSDataSize: 4,
	}
	req := &NetworkSample{
		ID: "N1", RecordingID: "R1", ParentGroupID: "G2", Timestamp: at(4 * time.Second),
		URL: "https://example.com/api", Method: "POST",
		RequestHeaders: map[string]string{"Accept": "application/json"}, RequestDataLength: 10,
		State: NetworkStarted,
	}
	logLine := &LogSample{ID: "L1", RecordingID: "R1", ParentGroupID: "G2", Timestamp: at(5 * time.Second),
		Level: "info", Subsystem: "net", Category: "http", Line: "request sent"}
	tag := &Tag{ID: "T1", RecordingID: "R1", ParentGroupID: "G2", Timestamp: at(5 * time.Second), Name: "checkpoint"}

	require.NoError(t, h.enc.PushSampleGroup(root, true))
	require.NoError(t, h.enc.PushSampleGroup(child, false))
	require.NoError(t, h.enc.CreatedOrUpdatedThreadInfo(thread))
	require.NoError(t, h.enc.AddPerformanceSample(adv))
	require.NoError(t, h.enc.AddRNPerformanceSample(rn))
	require.NoError(t, h.enc.StartRequest(req))
	require.NoError(t, h.enc.AddLogSample(logLine))
	require.NoError(t, h.enc.AddTag(tag))

	finished := *req
	finished.ResponseTimestamp = ptr(at(6 * time.Second))
	finished.ResponseStatusCode = 201
	finished.ResponseMIMEType = "application/json"
	finished.ResponseHeaders = map[string]string{"Content-Type": "application/json"}
	finished.ResponseDataLength = 99
	require.NoError(t, h.enc.FinishWithResponse(&finished))

	for i, err := range h.errs {
		require.NoError(t, err, "event %d", i)
	}

	gotChild := h.store.get("group/G2").(*SampleGroup)
	assert.Equal(t, "G1", gotChild.ParentGroupID)
	assert.Equal(t, int64(1), gotChild.Depth)
	assert.False(t, gotChild.IsRootGroup)

	assert.Equal(t, thread, h.store.get("thread/R1/7"))
	assert.Equal(t, adv, h.store.get("perf/P1"))
	assert.Equal(t, rn, h.store.get("rn/RN1"))
	assert.Equal(t, logLine, h.store.get("log/L1"))
	assert.Equal(t, tag, h.store.get("tag/T1"))

	finished.State = NetworkFinished
	assert.Equal(t, &finished, h.store.get("network/N1"))
}

func TestApplier_SequencingErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		event func(h *harness) error
	}{
		{
			name:  "event for unknown recording",
			setup: func(*testing.T, *harness) {},
			event: func(h *harness) error {
				return h.enc.AddTag(&Tag{ID: "T", RecordingID: "nope", Timestamp: at(0), Name: "x"})
			},
		},
		{
			name:  "duplicate createRecording",
			setup: func(t *testing.T, h *harness) { h.createRecording(t, "R1") },
			event: func(h *harness) error {
				return h.enc.CreateRecording(&Recording{ID: "R1", StartTime: at(0)})
			},
		},
		{
			name:  "non-root group on empty stack",
			setup: func(t *testing.T, h *harness) { h.createRecording(t, "R1") },
			event: func(h *harness) error {
				return h.enc.PushSampleGroup(&SampleGroup{ID: "G", RecordingID: "R1", Name: "g", StartTime: at(0)}, false)
			},
		},
		{
			name: "root group on non-empty stack",
			setup: func(t *testing.T, h *harness) {
				h.createRecording(t, "R1")
				require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "g", StartTime: at(0)}, true))
			},
			event: func(h *harness) error {
				return h.enc.PushSampleGroup(&SampleGroup{ID: "G2", RecordingID: "R1", Name: "g", StartTime: at(0)}, true)
			},
		},
		{
			name: "pop out of nesting order",
			setup: func(t *testing.T, h *harness) {
				h.createRecording(t, "R1")
				require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "g", StartTime: at(0)}, true))
				require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G2", RecordingID: "R1", Name: "g", StartTime: at(0)}, false))
			},
			event: func(h *harness) error {
				return h.enc.PopSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1"})
			},
		},
		{
			name: "sample names unknown parent",
			setup: func(t *testing.T, h *harness) {
				h.createRecording(t, "R1")
			},
			event: func(h *harness) error {
				return h.enc.AddLogSample(&LogSample{ID: "L", RecordingID: "R1", ParentGroupID: "ghost", Timestamp: at(0), Line: "x"})
			},
		},
		{
			name:  "finish without start",
			setup: func(t *testing.T, h *harness) { h.createRecording(t, "R1") },
			event: func(h *harness) error {
				return h.enc.FinishWithResponse(&NetworkSample{ID: "N", RecordingID: "R1", Timestamp: at(0), URL: "u"})
			},
		},
		{
			name: "finish twice",
			setup: func(t *testing.T, h *harness) {
				h.createRecording(t, "R1")
				req := &NetworkSample{ID: "N", RecordingID: "R1", Timestamp: at(0), URL: "u", Method: "GET"}
				require.NoError(t, h.enc.StartRequest(req))
				require.NoError(t, h.lastErr())
				finished := *req
				finished.ResponseTimestamp = ptr(at(time.Second))
				finished.ResponseStatusCode = 200
				require.NoError(t, h.enc.FinishWithResponse(&finished))
				require.NoError(t, h.lastErr())
			},
			event: func(h *harness) error {
				return h.enc.FinishWithResponse(&NetworkSample{ID: "N", RecordingID: "R1", Timestamp: at(0), URL: "u",
					ResponseTimestamp: ptr(at(2 * time.Second)), ResponseStatusCode: 500})
			},
		},
		{
			name: "event after stop",
			setup: func(t *testing.T, h *harness) {
				h.createRecording(t, "R1")
				require.NoError(t, h.enc.UpdateRecording(&Recording{ID: "R1"}, true))
				require.NoError(t, h.lastErr())
			},
			event: func(h *harness) error {
				return h.enc.AddTag(&Tag{ID: "T", RecordingID: "R1", Timestamp: at(0), Name: "late"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)
			commits := h.store.commits

			require.NoError(t, tt.event(h))
			err := h.lastErr()
			require.Error(t, err)
			assert.True(t, IsSequencingError(err), "got %v", err)
			assert.Equal(t, commits, h.store.commits, "rejected event must not commit")
		})
	}
}

func TestApplier_RejectedEventLeavesStreamUsable(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G2", RecordingID: "R1", Name: "orphan", StartTime: at(0)}, false))
	require.True(t, IsSequencingError(h.lastErr()))
	assert.Nil(t, h.store.get("group/G2"))

	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(0)}, true))
	require.NoError(t, h.lastErr())
	assert.Equal(t, []string{"G1"}, h.applier.OpenGroups("R1", 0))
}

func TestApplier_StopClosesOpenGroups(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(0)}, true))
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G2", RecordingID: "R1", Name: "child", StartTime: at(0)}, false))

	require.NoError(t, h.enc.UpdateRecording(&Recording{ID: "R1", EndTime: ptr(at(time.Minute))}, true))
	require.NoError(t, h.lastErr())

	for _, id := range []string{"G1", "G2"} {
		g := h.store.get("group/" + id).(*SampleGroup)
		require.NotNil(t, g.EndTime, id)
		assert.True(t, g.EndTime.Equal(at(time.Minute)), id)
	}
	assert.Empty(t, h.applier.OpenGroups("R1", 0))
}

func TestApplier_StopFlagFromPayload(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	payload := wire.NewMap().Set("id", wire.String("R1")).Set("stopped", wire.Bool(true))
	err := Dispatch(context.Background(), h.applier, Event{Kind: wire.EventUpdateRecording, Payload: payload})
	require.NoError(t, err)

	rec, ok := h.applier.Recording("R1")
	require.True(t, ok)
	assert.True(t, rec.Stopped)
	require.NotNil(t, rec.EndTime)
	assert.True(t, rec.EndTime.Equal(at(time.Hour)))
}

func TestApplier_ThreadStacks(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "main", RecordingID: "R1", Name: "main", StartTime: at(0)}, true))

	// Thread 3 has no open group, so a nested push there is out of order
	// even though the main thread has one.
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "w0", RecordingID: "R1", Name: "work", StartTime: at(0), ThreadNumber: 3}, false))
	require.True(t, IsSequencingError(h.lastErr()), "got %v", h.lastErr())
	assert.Nil(t, h.store.get("group/w0"))

	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "w1", RecordingID: "R1", Name: "work", StartTime: at(0), ThreadNumber: 3}, true))
	require.NoError(t, h.lastErr())
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "w2", RecordingID: "R1", Name: "step", StartTime: at(0), ThreadNumber: 3}, false))
	require.NoError(t, h.lastErr())
	require.NoError(t, h.enc.AddPerformanceSample(&PerformanceSample{ID: "P3", RecordingID: "R1", Timestamp: at(0), ThreadNumber: 3}))
	require.NoError(t, h.lastErr())
	// Samples from a thread without groups attach to the main thread.
	require.NoError(t, h.enc.AddPerformanceSample(&PerformanceSample{ID: "P5", RecordingID: "R1", Timestamp: at(0), ThreadNumber: 5}))
	require.NoError(t, h.lastErr())
	// Popping the main group leaves thread 3 untouched.
	require.NoError(t, h.enc.PopSampleGroup(&SampleGroup{ID: "main", RecordingID: "R1"}))
	require.NoError(t, h.lastErr())

	w1 := h.store.get("group/w1").(*SampleGroup)
	assert.True(t, w1.IsRootGroup)
	assert.Empty(t, w1.ParentGroupID)
	w2 := h.store.get("group/w2").(*SampleGroup)
	assert.Equal(t, "w1", w2.ParentGroupID)
	assert.Equal(t, int64(1), w2.Depth)
	assert.Equal(t, "w2", h.store.get("perf/P3").(*PerformanceSample).ParentGroupID)
	assert.Equal(t, "main", h.store.get("perf/P5").(*PerformanceSample).ParentGroupID)
	assert.Equal(t, []string{"w1", "w2"}, h.applier.OpenGroups("R1", 3))
	assert.Empty(t, h.applier.OpenGroups("R1", 0))
}

// TestApplier_GeneratedGroupNesting drives random push/pop sequences and
// checks parenting and close order against a model stack.
func TestApplier_GeneratedGroupNesting(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*31))
			h := newHarness(t)
			h.createRecording(t, "R1")

			var (
				stack   []string
				opened  []string
				closed  []string
				parents = make(map[string]string)
				step    time.Duration
			)
			pop := func() {
				id := stack[len(stack)-1]
				end := at(step)
				require.NoError(t, h.enc.PopSampleGroup(&SampleGroup{ID: id, RecordingID: "R1", EndTime: &end}))
				require.NoError(t, h.lastErr(), "pop %s", id)
				stack = stack[:len(stack)-1]
				closed = append(closed, id)
			}

			for i := 0; i < 80; i++ {
				step += time.Millisecond
				if len(stack) == 0 || (len(stack) < 10 && rng.IntN(2) == 0) {
					id := fmt.Sprintf("G%d", len(opened))
					root := len(stack) == 0
					parent := ""
					if !root {
						parent = stack[len(stack)-1]
					}
					require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: id, RecordingID: "R1", Name: id, StartTime: at(step)}, root))
					require.NoError(t, h.lastErr(), "push %s", id)
					parents[id] = parent
					stack = append(stack, id)
					opened = append(opened, id)
					continue
				}

				if len(stack) > 1 && rng.IntN(4) == 0 {
					outer := stack[rng.IntN(len(stack)-1)]
					require.NoError(t, h.enc.PopSampleGroup(&SampleGroup{ID: outer, RecordingID: "R1"}))
					require.True(t, IsSequencingError(h.lastErr()), "pop of outer group %s accepted", outer)
				}
				pop()
			}
			for len(stack) > 0 {
				step += time.Millisecond
				pop()
			}

			require.Len(t, closed, len(opened))
			closeIndex := make(map[string]int, len(closed))
			for i, id := range closed {
				closeIndex[id] = i
			}
			for _, id := range opened {
				g := h.store.get("group/" + id).(*SampleGroup)
				assert.Equal(t, parents[id], g.ParentGroupID, id)
				assert.Equal(t, parents[id] == "", g.IsRootGroup, id)
				require.NotNil(t, g.EndTime, id)

				parent := parents[id]
				if parent == "" {
					assert.Equal(t, int64(0), g.Depth, id)
					continue
				}
				pg := h.store.get("group/" + parent).(*SampleGroup)
				assert.Equal(t, pg.Depth+1, g.Depth, id)
				assert.Less(t, closeIndex[id], closeIndex[parent], "%s closed after its parent %s", id, parent)
				assert.False(t, g.EndTime.After(*pg.EndTime), "%s ends after its parent %s", id, parent)
			}
			assert.Empty(t, h.applier.OpenGroups("R1", 0))
		})
	}
}

func TestApplier_DecodeErrors(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	tests := []struct {
		name string
		ev   Event
	}{
		{
			name: "empty payload",
			ev:   Event{Kind: wire.EventAddTag, Payload: wire.NewMap()},
		},
		{
			name: "missing required field",
			ev: Event{Kind: wire.EventAddTag, Payload: wire.NewMap().
				Set("id", wire.String("T")).Set("recordingID", wire.String("R1"))},
		},
		{
			name: "descriptor for another entity",
			ev: Event{
				Kind:    wire.EventAddTag,
				Payload: wire.NewMap().Set("id", wire.String("T")).Set("recordingID", wire.String("R1")).Set("timestamp", wire.Time(t0)),
				Schema:  schema.Builtin(schema.EntityLogSample),
			},
		},
		{
			name: "incompatible declared type",
			ev: Event{
				Kind:    wire.EventAddTag,
				Payload: wire.NewMap().Set("id", wire.String("T")).Set("recordingID", wire.String("R1")).Set("timestamp", wire.Time(t0)),
				Schema: &schema.Descriptor{Entity: schema.EntityTag, Version: 1, Fields: []schema.Field{
					{Name: "id", Type: schema.TypeString},
					{Name: "timestamp", Type: schema.TypeList},
				}},
			},
		},
		{
			name: "uncoercible value",
			ev: Event{Kind: wire.EventAddTag, Payload: wire.NewMap().
				Set("id", wire.String("T")).Set("recordingID", wire.String("R1")).
				Set("timestamp", wire.String("not a time"))},
		},
		{
			name: "unknown event kind",
			ev:   Event{Kind: wire.EventKind(200), Payload: wire.NewMap().Set("id", wire.String("x"))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Dispatch(context.Background(), h.applier, tt.ev)
			require.Error(t, err)
			assert.True(t, IsDecodeError(err), "got %v", err)
		})
	}
	assert.Nil(t, h.store.get("tag/T"))
}

func TestEncoder_OmitsZeroSampleTimestamp(t *testing.T) {
	var sent []*wire.Envelope
	enc := NewEncoder(EmitterFunc(func(env *wire.Envelope) error {
		sent = append(sent, env)
		return nil
	}))
	require.NoError(t, enc.AddTag(&Tag{ID: "T", RecordingID: "R1", Name: "untimed"}))
	require.NoError(t, enc.AddTag(&Tag{ID: "T2", RecordingID: "R1", Name: "timed", Timestamp: at(time.Second)}))
	require.Len(t, sent, 2)

	_, ok := sent[0].Payload.Get("timestamp")
	assert.False(t, ok)
	v, ok := sent[1].Payload.Get("timestamp")
	require.True(t, ok)
	ts, ok := v.AsTime()
	require.True(t, ok)
	assert.True(t, ts.Equal(at(time.Second)))

	// A sample without a timestamp is rejected rather than stored at an
	// arbitrary time.
	h := newHarness(t)
	h.createRecording(t, "R1")
	commits := h.store.commits
	require.NoError(t, h.enc.AddLogSample(&LogSample{ID: "L", RecordingID: "R1", Line: "x"}))
	assert.True(t, IsDecodeError(h.lastErr()), "got %v", h.lastErr())
	assert.Equal(t, commits, h.store.commits)
	assert.Nil(t, h.store.get("log/L"))
}

func TestApplier_VersionSkewedPayload(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	// An older producer named the fields differently and added one the
	// consumer does not know.
	desc := &schema.Descriptor{Entity: schema.EntityLogSample, Version: 0, Fields: []schema.Field{
		{Name: "id", Type: schema.TypeString},
		{Name: "recording", Type: schema.TypeString},
		{Name: "time", Type: schema.TypeInt},
		{Name: "message", Type: schema.TypeString},
		{Name: "pid", Type: schema.TypeInt},
	}}
	payload := wire.NewMap().
		Set("id", wire.String("L1")).
		Set("recording", wire.String("R1")).
		Set("time", wire.Int(t0.UnixNano())).
		Set("message", wire.String("hello")).
		Set("pid", wire.Int(42))

	for i := 0; i < 2; i++ {
		payload.Set("id", wire.String(fmt.Sprintf("L%d", i)))
		err := Dispatch(context.Background(), h.applier, Event{Kind: wire.EventAddLogSample, Payload: payload, Schema: desc})
		require.NoError(t, err)
	}

	l := h.store.get("log/L1").(*LogSample)
	assert.Equal(t, "R1", l.RecordingID)
	assert.Equal(t, "hello", l.Line)
	assert.True(t, l.Timestamp.Equal(t0))
	// Both log events share one cached plan next to the recording's.
	assert.Equal(t, 2, h.applier.mapper.plans.len())
}

func TestApplier_AdvancedDetectedWithoutDescriptor(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	payload := wire.NewMap().
		Set("id", wire.String("P1")).
		Set("recordingID", wire.String("R1")).
		Set("timestamp", wire.Time(t0)).
		Set("cpuUsage", wire.Int(3)).
		Set("heaviestStackTrace", wire.Strings([]string{"a", "b"}))
	require.NoError(t, Dispatch(context.Background(), h.applier, Event{Kind: wire.EventAddPerformanceSample, Payload: payload}))

	p := h.store.get("perf/P1").(*PerformanceSample)
	assert.True(t, p.Advanced)
	assert.InDelta(t, 3.0, p.CPUUsage, 1e-9)
	assert.Equal(t, []string{"a", "b"}, p.HeaviestStackTrace)
}

func TestApplier_FailedCommitKeepsState(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")

	h.store.failCommit = errors.New("disk full")
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(0)}, true))
	require.Error(t, h.lastErr())
	assert.Empty(t, h.applier.OpenGroups("R1", 0))

	h.store.failCommit = nil
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(0)}, true))
	require.NoError(t, h.lastErr())
}

func TestApplier_FinalizeRecording(t *testing.T) {
	h := newHarness(t)
	h.createRecording(t, "R1")
	h.createRecording(t, "R2")
	require.NoError(t, h.enc.PushSampleGroup(&SampleGroup{ID: "G1", RecordingID: "R1", Name: "root", StartTime: at(0)}, true))

	ctx := context.Background()
	require.NoError(t, h.applier.FinalizeAll(ctx))
	assert.Empty(t, h.applier.ActiveRecordings())

	commits := h.store.commits
	require.NoError(t, h.applier.FinalizeRecording(ctx, "R1"))
	require.NoError(t, h.applier.FinalizeRecording(ctx, "unknown"))
	assert.Equal(t, commits, h.store.commits)

	g := h.store.get("group/G1").(*SampleGroup)
	require.NotNil(t, g.EndTime)
	assert.True(t, h.store.get("recording/R2").(*Recording).Stopped)
}

func TestApplier_OperationOutsideBracket(t *testing.T) {
	a := NewApplier(newFakeStore(), zerolog.Nop())
	err := a.AddTag(context.Background(), wire.NewMap().Set("id", wire.String("x")), nil)
	assert.ErrorIs(t, err, errNoScope)
}
