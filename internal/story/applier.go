package story

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	errs "github.com/coral-mesh/remoteprof/internal/errors"
	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Applier is a Decoder that enforces the per-recording event order and
// persists decoded entities to a Store.
//
// Each event writes through its own Batch. In-memory state (sample group
// stacks, open requests, stopped flags) changes only after the batch
// commits, so a rejected event leaves no trace. Events of different
// recordings may be applied concurrently; events of one recording must be
// delivered serially.
type Applier struct {
	store  Store
	logger zerolog.Logger
	mapper *mapper
	now    func() time.Time

	mu         sync.Mutex
	recordings map[string]*recordingState
}

var _ Decoder = (*Applier)(nil)

type recordingState struct {
	rec     Recording
	stopped bool
	// stacks holds open group ids per thread number, innermost last.
	stacks  map[int64][]string
	groups  map[string]*SampleGroup
	network map[string]*NetworkSample
}

func newRecordingState(rec Recording) *recordingState {
	return &recordingState{
		rec:     rec,
		stacks:  make(map[int64][]string),
		groups:  make(map[string]*SampleGroup),
		network: make(map[string]*NetworkSample),
	}
}

// top returns the innermost open group for thread. Samples from a thread
// without open groups attach to the main thread.
func (st *recordingState) top(thread int64) string {
	stack := st.stacks[thread]
	if len(stack) == 0 && thread != 0 {
		stack = st.stacks[0]
	}
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

// openGroups returns copies of every open group, innermost first.
func (st *recordingState) openGroups() []SampleGroup {
	threads := make([]int64, 0, len(st.stacks))
	for thread := range st.stacks {
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] > threads[j] })

	var open []SampleGroup
	for _, thread := range threads {
		stack := st.stacks[thread]
		for i := len(stack) - 1; i >= 0; i-- {
			open = append(open, *st.groups[stack[i]])
		}
	}
	return open
}

// NewApplier returns an Applier writing to st.
func NewApplier(st Store, logger zerolog.Logger) *Applier {
	return &Applier{
		store:      st,
		logger:     logger.With().Str("component", "story").Logger(),
		mapper:     newMapper(),
		now:        time.Now,
		recordings: make(map[string]*recordingState),
	}
}

type scopeKey struct{}

// scope is the per-event unit of work carried in the decode context.
type scope struct {
	batch    Batch
	onCommit []func()
}

func (sc *scope) after(fn func()) { sc.onCommit = append(sc.onCommit, fn) }

var errNoScope = errors.New("story event decoded outside WillDecodeStoryEvent/DidDecodeStoryEvent")

func scopeFrom(ctx context.Context) (*scope, error) {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		return nil, errNoScope
	}
	return sc, nil
}

func (a *Applier) WillDecodeStoryEvent(ctx context.Context) (context.Context, error) {
	if _, err := scopeFrom(ctx); err == nil {
		return ctx, errors.New("story decode bracket already open")
	}
	batch, err := a.store.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("begin store batch: %w", err)
	}
	return context.WithValue(ctx, scopeKey{}, &scope{batch: batch}), nil
}

func (a *Applier) DidDecodeStoryEvent(ctx context.Context, decodeErr error) error {
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	if decodeErr != nil {
		if err := sc.batch.Rollback(); err != nil {
			return fmt.Errorf("rollback store batch: %w", err)
		}
		return nil
	}
	if err := sc.batch.Commit(); err != nil {
		errs.DeferRollback(a.logger, sc.batch, "Rollback after failed commit")
		return fmt.Errorf("commit store batch: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, fn := range sc.onCommit {
		fn()
	}
	return nil
}

// active returns the state of a recording that accepts events. Callers hold
// a.mu.
func (a *Applier) active(kind wire.EventKind, id string) (*recordingState, error) {
	st, ok := a.recordings[id]
	if !ok {
		return nil, seqErr(kind, id, "recording does not exist")
	}
	if st.stopped {
		return nil, seqErr(kind, id, "recording is stopped")
	}
	return st, nil
}

// parentFor validates an explicit parent group or defaults to the innermost
// open group of thread.
func (a *Applier) parentFor(kind wire.EventKind, recordingID, explicit string, thread int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.active(kind, recordingID)
	if err != nil {
		return "", err
	}
	if explicit == "" {
		return st.top(thread), nil
	}
	if _, ok := st.groups[explicit]; !ok {
		return "", seqErr(kind, recordingID, "unknown parent group %q", explicit)
	}
	return explicit, nil
}

func (a *Applier) CreateRecording(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventCreateRecording
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityRecording, payload, desc)
	if err != nil {
		return err
	}
	rec := recordingFrom(r)
	r.need("startTimestamp")
	if err := r.check(kind, schema.EntityRecording); err != nil {
		return err
	}
	rec.Stopped = false

	a.mu.Lock()
	_, exists := a.recordings[rec.ID]
	a.mu.Unlock()
	if exists {
		return seqErr(kind, rec.ID, "recording already exists")
	}

	if err := sc.batch.CreateOrUpdate(ctx, rec); err != nil {
		return fmt.Errorf("store recording: %w", err)
	}
	snapshot := *rec
	sc.after(func() { a.recordings[snapshot.ID] = newRecordingState(snapshot) })
	return nil
}

func (a *Applier) UpdateRecording(ctx context.Context, payload *wire.Map, stopRecording *bool, desc *schema.Descriptor) error {
	const kind = wire.EventUpdateRecording
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityRecording, payload, desc)
	if err != nil {
		return err
	}
	id := r.str("id")
	stop := false
	if stopRecording != nil {
		stop = *stopRecording
	} else if b, ok := r.bool("stopRecording"); ok {
		stop = b
	}
	if err := r.check(kind, schema.EntityRecording); err != nil {
		return err
	}

	a.mu.Lock()
	st, err := a.active(kind, id)
	var (
		rec  Recording
		open []SampleGroup
	)
	if err == nil {
		rec = st.rec
		if stop {
			open = st.openGroups()
		}
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}

	mergeRecording(r, &rec)
	if err := r.check(kind, schema.EntityRecording); err != nil {
		return err
	}

	var end time.Time
	if stop {
		end = a.now().UTC()
		if rec.EndTime != nil {
			end = *rec.EndTime
		}
		rec.EndTime = &end
		rec.Stopped = true
		for i := range open {
			g := open[i]
			g.EndTime = &end
			if err := sc.batch.CreateOrUpdate(ctx, &g); err != nil {
				return fmt.Errorf("close sample group %s: %w", g.ID, err)
			}
		}
	}
	if err := sc.batch.CreateOrUpdate(ctx, &rec); err != nil {
		return fmt.Errorf("store recording: %w", err)
	}

	sc.after(func() {
		st.rec = rec
		if !stop {
			return
		}
		st.stopped = true
		for _, g := range st.groups {
			if g.EndTime == nil {
				g.EndTime = &end
			}
		}
		st.stacks = make(map[int64][]string)
		st.network = make(map[string]*NetworkSample)
	})
	if stop {
		a.logger.Debug().
			Str("recording_id", id).
			Int("closed_groups", len(open)).
			Msg("Recording stopped")
	}
	return nil
}

func (a *Applier) PushSampleGroup(ctx context.Context, payload *wire.Map, isRootGroup *bool, desc *schema.Descriptor) error {
	const kind = wire.EventPushSampleGroup
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntitySampleGroup, payload, desc)
	if err != nil {
		return err
	}
	g := groupFrom(r)
	r.need("name", "timestamp")
	root := false
	if isRootGroup != nil {
		root = *isRootGroup
	} else if b, ok := r.bool("isRootGroup"); ok {
		root = b
	}
	if err := r.check(kind, schema.EntitySampleGroup); err != nil {
		return err
	}
	g.IsRootGroup = root
	g.EndTime = nil

	a.mu.Lock()
	st, err := a.placeGroup(kind, g)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	if err := sc.batch.CreateOrUpdate(ctx, g); err != nil {
		return fmt.Errorf("store sample group: %w", err)
	}
	snapshot := *g
	sc.after(func() {
		st.groups[snapshot.ID] = &snapshot
		st.stacks[snapshot.ThreadNumber] = append(st.stacks[snapshot.ThreadNumber], snapshot.ID)
	})
	return nil
}

// placeGroup validates a push against the group stack and fills in the
// parent and depth. Callers hold a.mu.
func (a *Applier) placeGroup(kind wire.EventKind, g *SampleGroup) (*recordingState, error) {
	st, err := a.active(kind, g.RecordingID)
	if err != nil {
		return nil, err
	}
	if _, dup := st.groups[g.ID]; dup {
		return nil, seqErr(kind, g.RecordingID, "sample group %q already pushed", g.ID)
	}

	if g.IsRootGroup {
		if top := st.stacks[g.ThreadNumber]; len(top) > 0 {
			return nil, seqErr(kind, g.RecordingID, "root group %q pushed onto non-empty stack (top %q)", g.ID, top[len(top)-1])
		}
		if g.ParentGroupID != "" {
			return nil, seqErr(kind, g.RecordingID, "root group %q names parent %q", g.ID, g.ParentGroupID)
		}
		g.Depth = 0
		return st, nil
	}

	// Groups nest only within their own thread.
	stack := st.stacks[g.ThreadNumber]
	if len(stack) == 0 {
		return nil, seqErr(kind, g.RecordingID, "non-root group %q pushed onto empty stack of thread %d", g.ID, g.ThreadNumber)
	}
	parent := stack[len(stack)-1]
	if g.ParentGroupID != "" && g.ParentGroupID != parent {
		return nil, seqErr(kind, g.RecordingID, "group %q names parent %q but innermost open group is %q", g.ID, g.ParentGroupID, parent)
	}
	g.ParentGroupID = parent
	g.Depth = st.groups[parent].Depth + 1
	return st, nil
}

func (a *Applier) PopSampleGroup(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventPopSampleGroup
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntitySampleGroup, payload, desc)
	if err != nil {
		return err
	}
	id := r.str("id")
	recordingID := r.str("recordingID")
	closeTime := r.optTime("closeTimestamp")
	if err := r.check(kind, schema.EntitySampleGroup); err != nil {
		return err
	}

	a.mu.Lock()
	st, closed, err := a.popTarget(kind, recordingID, id)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	end := a.now().UTC()
	if closeTime != nil {
		end = *closeTime
	}
	closed.EndTime = &end
	if err := sc.batch.CreateOrUpdate(ctx, &closed); err != nil {
		return fmt.Errorf("store sample group: %w", err)
	}
	sc.after(func() {
		st.groups[id] = &closed
		stack := st.stacks[closed.ThreadNumber]
		st.stacks[closed.ThreadNumber] = stack[:len(stack)-1]
	})
	return nil
}

// popTarget checks that id is the innermost open group of its thread.
// Callers hold a.mu.
func (a *Applier) popTarget(kind wire.EventKind, recordingID, id string) (*recordingState, SampleGroup, error) {
	st, err := a.active(kind, recordingID)
	if err != nil {
		return nil, SampleGroup{}, err
	}
	g, ok := st.groups[id]
	if !ok {
		return nil, SampleGroup{}, seqErr(kind, recordingID, "unknown sample group %q", id)
	}
	if g.Closed() {
		return nil, SampleGroup{}, seqErr(kind, recordingID, "sample group %q already popped", id)
	}
	stack := st.stacks[g.ThreadNumber]
	if len(stack) == 0 || stack[len(stack)-1] != id {
		top := ""
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}
		return nil, SampleGroup{}, seqErr(kind, recordingID, "pop of %q out of order (innermost open group is %q)", id, top)
	}
	return st, *g, nil
}

func (a *Applier) CreatedOrUpdatedThreadInfo(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventCreatedOrUpdatedThreadInfo
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityThreadInfo, payload, desc)
	if err != nil {
		return err
	}
	t := threadFrom(r)
	if err := r.check(kind, schema.EntityThreadInfo); err != nil {
		return err
	}

	a.mu.Lock()
	_, err = a.active(kind, t.RecordingID)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if err := sc.batch.CreateOrUpdate(ctx, t); err != nil {
		return fmt.Errorf("store thread info: %w", err)
	}
	return nil
}

func (a *Applier) AddPerformanceSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventAddPerformanceSample
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityPerformanceSample, payload, desc, schema.EntityAdvancedPerformanceSample)
	if err != nil {
		return err
	}
	advanced := r.entity == schema.EntityAdvancedPerformanceSample
	if desc == nil || desc.Entity == "" {
		advanced = r.has("threadCount") || r.has("heaviestThreadNumber") || r.has("heaviestStackTrace")
	}
	s := performanceFrom(r, advanced)
	if err := r.check(kind, r.entity); err != nil {
		return err
	}

	s.ParentGroupID, err = a.parentFor(kind, s.RecordingID, s.ParentGroupID, s.ThreadNumber)
	if err != nil {
		return err
	}
	if err := sc.batch.CreateOrUpdate(ctx, s); err != nil {
		return fmt.Errorf("store performance sample: %w", err)
	}
	return nil
}

func (a *Applier) AddRNPerformanceSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventAddRNPerformanceSample
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityRNPerformanceSample, payload, desc)
	if err != nil {
		return err
	}
	s := rnPerformanceFrom(r)
	if err := r.check(kind, schema.EntityRNPerformanceSample); err != nil {
		return err
	}

	s.ParentGroupID, err = a.parentFor(kind, s.RecordingID, s.ParentGroupID, 0)
	if err != nil {
		return err
	}
	if err := sc.batch.CreateOrUpdate(ctx, s); err != nil {
		return fmt.Errorf("store react native sample: %w", err)
	}
	return nil
}

func (a *Applier) StartRequest(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventStartRequestWithNetworkSample
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityNetworkSample, payload, desc)
	if err != nil {
		return err
	}
	n := requestFrom(r)
	r.need("timestamp", "url")
	if err := r.check(kind, schema.EntityNetworkSample); err != nil {
		return err
	}

	a.mu.Lock()
	st, err := a.active(kind, n.RecordingID)
	if err == nil {
		if _, dup := st.network[n.ID]; dup {
			err = seqErr(kind, n.RecordingID, "request %q already started", n.ID)
		}
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	n.ParentGroupID, err = a.parentFor(kind, n.RecordingID, n.ParentGroupID, 0)
	if err != nil {
		return err
	}

	if err := sc.batch.CreateOrUpdate(ctx, n); err != nil {
		return fmt.Errorf("store network sample: %w", err)
	}
	snapshot := *n
	sc.after(func() { st.network[snapshot.ID] = &snapshot })
	return nil
}

func (a *Applier) FinishWithResponse(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventFinishWithResponseForNetworkSample
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityNetworkSample, payload, desc)
	if err != nil {
		return err
	}
	id := r.str("id")
	recordingID := r.str("recordingID")
	if err := r.check(kind, schema.EntityNetworkSample); err != nil {
		return err
	}

	a.mu.Lock()
	st, err := a.active(kind, recordingID)
	var n NetworkSample
	if err == nil {
		started, ok := st.network[id]
		if ok {
			n = *started
		} else {
			err = seqErr(kind, recordingID, "request %q was not started", id)
		}
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}

	mergeResponse(r, &n)
	if err := r.check(kind, schema.EntityNetworkSample); err != nil {
		return err
	}
	if n.ResponseTimestamp == nil {
		t := a.now().UTC()
		n.ResponseTimestamp = &t
	}
	if err := sc.batch.CreateOrUpdate(ctx, &n); err != nil {
		return fmt.Errorf("store network sample: %w", err)
	}
	sc.after(func() { delete(st.network, id) })
	return nil
}

func (a *Applier) AddLogSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventAddLogSample
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityLogSample, payload, desc)
	if err != nil {
		return err
	}
	l := logFrom(r)
	if err := r.check(kind, schema.EntityLogSample); err != nil {
		return err
	}

	l.ParentGroupID, err = a.parentFor(kind, l.RecordingID, l.ParentGroupID, 0)
	if err != nil {
		return err
	}
	if err := sc.batch.CreateOrUpdate(ctx, l); err != nil {
		return fmt.Errorf("store log sample: %w", err)
	}
	return nil
}

func (a *Applier) AddTag(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	const kind = wire.EventAddTag
	sc, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	r, err := a.mapper.read(kind, schema.EntityTag, payload, desc)
	if err != nil {
		return err
	}
	t := tagFrom(r)
	if err := r.check(kind, schema.EntityTag); err != nil {
		return err
	}

	t.ParentGroupID, err = a.parentFor(kind, t.RecordingID, t.ParentGroupID, 0)
	if err != nil {
		return err
	}
	if err := sc.batch.CreateOrUpdate(ctx, t); err != nil {
		return fmt.Errorf("store tag: %w", err)
	}
	return nil
}

// FinalizeRecording stops a recording that is still active, closing its
// open sample groups. It is a no-op for unknown or already stopped
// recordings.
func (a *Applier) FinalizeRecording(ctx context.Context, id string) error {
	a.mu.Lock()
	st, ok := a.recordings[id]
	done := !ok || st.stopped
	a.mu.Unlock()
	if done {
		return nil
	}

	return Dispatch(ctx, a, Event{
		Kind:          wire.EventUpdateRecording,
		Payload:       wire.NewMap().Set("id", wire.String(id)),
		StopRecording: wire.BoolPtr(true),
	})
}

// FinalizeAll stops every active recording.
func (a *Applier) FinalizeAll(ctx context.Context) error {
	var failures []error
	for _, id := range a.ActiveRecordings() {
		if err := a.FinalizeRecording(ctx, id); err != nil {
			failures = append(failures, fmt.Errorf("finalize %s: %w", id, err))
		}
	}
	return errors.Join(failures...)
}

// ActiveRecordings returns the sorted ids of recordings not yet stopped.
func (a *Applier) ActiveRecordings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, st := range a.recordings {
		if !st.stopped {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Recording returns the current view of a known recording.
func (a *Applier) Recording(id string) (Recording, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.recordings[id]
	if !ok {
		return Recording{}, false
	}
	return st.rec, true
}

// OpenGroups returns the ids of the open sample groups of thread, outermost
// first.
func (a *Applier) OpenGroups(recordingID string, thread int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.recordings[recordingID]
	if !ok {
		return nil
	}
	return append([]string(nil), st.stacks[thread]...)
}
