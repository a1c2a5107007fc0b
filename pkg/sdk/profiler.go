package sdk

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coral-mesh/remoteprof/internal/story"
)

// ErrNotRecording is returned by Profiler methods once the recording ended.
var ErrNotRecording = errors.New("sdk: not recording")

// RootGroupName names the sample group that spans the whole recording.
const RootGroupName = "Recording"

// Profiler emits story events for one recording. Methods are safe for
// concurrent use and keep the per-thread group stacks consistent with what
// the host expects: pops are innermost first, and the first group opened on a
// secondary thread is a root group.
type Profiler struct {
	mu       sync.Mutex
	listener story.Listener
	cfg      ProfilingConfig
	now      func() time.Time

	rec     story.Recording
	root    string
	stacks  map[int64][]*story.SampleGroup
	network map[string]*story.NetworkSample
	stopped bool
}

// startProfiler creates the recording and pushes its root group.
func startProfiler(l story.Listener, cfg ProfilingConfig, info recordingInfo, now func() time.Time) (*Profiler, error) {
	if now == nil {
		now = time.Now
	}
	start := now().UTC()
	p := &Profiler{
		listener: l,
		cfg:      cfg,
		now:      now,
		rec: story.Recording{
			ID:           uuid.NewString(),
			Name:         cfg.Name,
			StartTime:    start,
			AppName:      info.AppName,
			DeviceName:   info.DeviceName,
			DeviceOS:     info.DeviceOS,
			DeviceOSType: info.DeviceOSType,
		},
		stacks:  make(map[int64][]*story.SampleGroup),
		network: make(map[string]*story.NetworkSample),
	}
	if err := l.CreateRecording(&p.rec); err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	root := &story.SampleGroup{
		ID:          uuid.NewString(),
		RecordingID: p.rec.ID,
		Name:        RootGroupName,
		StartTime:   start,
		IsRootGroup: true,
	}
	if err := l.PushSampleGroup(root, true); err != nil {
		return nil, fmt.Errorf("push root group: %w", err)
	}
	p.root = root.ID
	p.stacks[0] = []*story.SampleGroup{root}
	return p, nil
}

type recordingInfo struct {
	AppName      string
	DeviceName   string
	DeviceOS     string
	DeviceOSType story.OSType
}

// RecordingID returns the id of the recording.
func (p *Profiler) RecordingID() string { return p.rec.ID }

// Config returns the profiling configuration the host sent.
func (p *Profiler) Config() ProfilingConfig { return p.cfg }

// mainTop returns the innermost open group of the main thread. Callers hold
// p.mu.
func (p *Profiler) mainTop() string {
	stack := p.stacks[0]
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1].ID
}

// BeginGroup opens a named span on thread and returns its id.
func (p *Profiler) BeginGroup(thread int64, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", ErrNotRecording
	}
	// The first span of a secondary thread roots that thread's tree.
	root := len(p.stacks[thread]) == 0
	g := &story.SampleGroup{
		ID:           uuid.NewString(),
		RecordingID:  p.rec.ID,
		Name:         name,
		StartTime:    p.now().UTC(),
		ThreadNumber: thread,
		IsRootGroup:  root,
	}
	if !root {
		g.ParentGroupID = p.stacks[thread][len(p.stacks[thread])-1].ID
	}
	if err := p.listener.PushSampleGroup(g, root); err != nil {
		return "", err
	}
	p.stacks[thread] = append(p.stacks[thread], g)
	return g.ID, nil
}

// EndGroup closes the span id, which must be the innermost open span of
// thread.
func (p *Profiler) EndGroup(thread int64, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	stack := p.stacks[thread]
	if len(stack) == 0 || stack[len(stack)-1].ID != id {
		return fmt.Errorf("sdk: group %q is not the innermost open group of thread %d", id, thread)
	}
	if thread == 0 && len(stack) == 1 {
		return fmt.Errorf("sdk: the root group closes with the recording")
	}
	return p.pop(thread)
}

// pop closes the innermost group of thread. Callers hold p.mu.
func (p *Profiler) pop(thread int64) error {
	stack := p.stacks[thread]
	g := stack[len(stack)-1]
	end := p.now().UTC()
	g.EndTime = &end
	if err := p.listener.PopSampleGroup(g); err != nil {
		return err
	}
	p.stacks[thread] = stack[:len(stack)-1]
	return nil
}

// UpdateThread names a thread.
func (p *Profiler) UpdateThread(number int64, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	return p.listener.CreatedOrUpdatedThreadInfo(&story.ThreadInfo{
		RecordingID: p.rec.ID,
		Number:      number,
		Name:        name,
	})
}

// AddTag marks a point on the main thread timeline.
func (p *Profiler) AddTag(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	return p.listener.AddTag(&story.Tag{
		ID:            uuid.NewString(),
		RecordingID:   p.rec.ID,
		ParentGroupID: p.mainTop(),
		Timestamp:     p.now().UTC(),
		Name:          name,
	})
}

// AddLog records a log line. It is a no-op when the host disabled logs.
func (p *Profiler) AddLog(level, subsystem, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	if !p.cfg.RecordLogs {
		return nil
	}
	return p.listener.AddLogSample(&story.LogSample{
		ID:            uuid.NewString(),
		RecordingID:   p.rec.ID,
		ParentGroupID: p.mainTop(),
		Timestamp:     p.now().UTC(),
		Level:         level,
		Subsystem:     subsystem,
		Line:          line,
	})
}

// Request describes an outgoing network request.
type Request struct {
	Method     string
	URL        string
	Headers    map[string]string
	DataLength int64
}

// Response describes the outcome of a request started with StartRequest.
type Response struct {
	StatusCode int64
	MIMEType   string
	Headers    map[string]string
	DataLength int64
	Err        error
}

// StartRequest records the start of a network request and returns its id.
// When the host disabled network recording the id is empty and
// FinishRequest ignores it.
func (p *Profiler) StartRequest(req Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", ErrNotRecording
	}
	if !p.cfg.RecordNetwork {
		return "", nil
	}
	n := &story.NetworkSample{
		ID:                uuid.NewString(),
		RecordingID:       p.rec.ID,
		ParentGroupID:     p.mainTop(),
		Timestamp:         p.now().UTC(),
		URL:               req.URL,
		Method:            req.Method,
		RequestHeaders:    maps.Clone(req.Headers),
		RequestDataLength: req.DataLength,
		State:             story.NetworkStarted,
	}
	if err := p.listener.StartRequest(n); err != nil {
		return "", err
	}
	p.network[n.ID] = n
	return n.ID, nil
}

// FinishRequest records the response of a started request.
func (p *Profiler) FinishRequest(id string, resp Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	if id == "" {
		return nil
	}
	n, ok := p.network[id]
	if !ok {
		return fmt.Errorf("sdk: unknown request %q", id)
	}
	delete(p.network, id)
	at := p.now().UTC()
	n.ResponseTimestamp = &at
	n.ResponseStatusCode = resp.StatusCode
	n.ResponseMIMEType = resp.MIMEType
	n.ResponseHeaders = maps.Clone(resp.Headers)
	n.ResponseDataLength = resp.DataLength
	if resp.Err != nil {
		n.ResponseError = resp.Err.Error()
	}
	return p.listener.FinishWithResponse(n)
}

// RNSample is a React Native bridge measurement.
type RNSample struct {
	CPUUsage                  float64
	BridgeJSToNativeCallCount int64
	BridgeNativeToJSCallCount int64
	BridgeJSToNativeDataSize  int64
	BridgeNativeToJSDataSize  int64
}

// AddRNSample records a React Native bridge measurement.
func (p *Profiler) AddRNSample(s RNSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	return p.listener.AddRNPerformanceSample(&story.RNPerformanceSample{
		ID:                        uuid.NewString(),
		RecordingID:               p.rec.ID,
		ParentGroupID:             p.mainTop(),
		Timestamp:                 p.now().UTC(),
		CPUUsage:                  s.CPUUsage,
		BridgeJSToNativeCallCount: s.BridgeJSToNativeCallCount,
		BridgeNativeToJSCallCount: s.BridgeNativeToJSCallCount,
		BridgeJSToNativeDataSize:  s.BridgeJSToNativeDataSize,
		BridgeNativeToJSDataSize:  s.BridgeNativeToJSDataSize,
	})
}

// addPerformance records one sampler measurement. Advanced samples report
// the deepest open stack as the heaviest one.
func (p *Profiler) addPerformance(m Measurement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	s := &story.PerformanceSample{
		ID:            uuid.NewString(),
		RecordingID:   p.rec.ID,
		ParentGroupID: p.mainTop(),
		Timestamp:     p.now().UTC(),
		CPUUsage:      m.CPUUsage,
		MemoryUsage:   m.MemoryUsage,
		DiskReads:     m.DiskReads,
		DiskWrites:    m.DiskWrites,
		Advanced:      p.cfg.Advanced,
	}
	if p.cfg.Advanced {
		s.ThreadCount = m.ThreadCount
		thread, stack := p.heaviest()
		s.HeaviestThreadNumber = &thread
		s.HeaviestStackTrace = stack
	}
	return p.listener.AddPerformanceSample(s)
}

// heaviest returns the thread with the deepest open stack and its group
// names, innermost first. Callers hold p.mu.
func (p *Profiler) heaviest() (int64, []string) {
	threads := make([]int64, 0, len(p.stacks))
	for thread := range p.stacks {
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] < threads[j] })

	var best int64
	for _, thread := range threads {
		if len(p.stacks[thread]) > len(p.stacks[best]) {
			best = thread
		}
	}
	stack := p.stacks[best]
	names := make([]string, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		names = append(names, stack[i].Name)
	}
	return best, names
}

// stop pops every open group, secondary threads first and the root group
// last, then ends the recording. The profiler is stopped even when an event
// cannot be sent.
func (p *Profiler) stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRecording
	}
	p.stopped = true

	threads := make([]int64, 0, len(p.stacks))
	for thread := range p.stacks {
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] > threads[j] })
	for _, thread := range threads {
		for len(p.stacks[thread]) > 0 {
			if err := p.pop(thread); err != nil {
				return err
			}
		}
	}

	end := p.now().UTC()
	p.rec.EndTime = &end
	return p.listener.UpdateRecording(&p.rec, true)
}

// sampleLoop feeds sampler measurements until ctx ends or the recording
// stops.
func (p *Profiler) sampleLoop(ctx context.Context, sampler Sampler, onErr func(error)) {
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := sampler.Sample(ctx)
			if err != nil {
				onErr(err)
				continue
			}
			if err := p.addPerformance(m); err != nil {
				if errors.Is(err, ErrNotRecording) {
					return
				}
				onErr(err)
			}
		}
	}
}
