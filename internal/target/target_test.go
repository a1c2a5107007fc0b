package target

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/store"
	"github.com/coral-mesh/remoteprof/internal/story"
	"github.com/coral-mesh/remoteprof/internal/testutil"
	"github.com/coral-mesh/remoteprof/internal/transport"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeDevice is the target end of a piped connection. It answers host
// requests through handler and records every envelope it receives.
type fakeDevice struct {
	conn     *transport.Stream
	enc      *story.Encoder
	received chan *wire.Envelope

	mu      sync.Mutex
	handler func(req *wire.Envelope) *wire.Envelope
}

func newFakeDevice(conn *transport.Stream) *fakeDevice {
	d := &fakeDevice{
		conn:     conn,
		received: make(chan *wire.Envelope, 64),
		handler:  defaultHandler,
	}
	d.enc = story.NewEncoder(story.EmitterFunc(d.send))
	go d.serve()
	return d
}

func defaultHandler(req *wire.Envelope) *wire.Envelope {
	reply := req.Reply()
	if req.Type == wire.CommandGetDeviceInfo {
		reply.Payload = wire.NewMap().
			Set(KeyAppName, wire.String("Demo")).
			Set(KeyDeviceName, wire.String("Pixel 9")).
			Set(KeyDeviceOS, wire.String("15")).
			Set(KeyDeviceOSType, wire.Int(int64(story.OSAndroid))).
			Set("screenDensity", wire.Int(420))
	}
	return reply
}

func (d *fakeDevice) setHandler(h func(req *wire.Envelope) *wire.Envelope) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *fakeDevice) serve() {
	for {
		body, err := d.conn.ReadFrame()
		if err != nil {
			return
		}
		env, err := wire.Decode(body)
		if err != nil {
			return
		}
		d.received <- env
		if env.Response {
			continue
		}

		d.mu.Lock()
		h := d.handler
		d.mu.Unlock()
		if reply := h(env); reply != nil {
			_ = d.send(reply)
		}
	}
}

func (d *fakeDevice) send(env *wire.Envelope) error {
	body, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return d.conn.WriteFrame(body)
}

// countingDecoder counts finalize calls on top of an Applier and can slow
// down createRecording.
type countingDecoder struct {
	*story.Applier
	finalized   atomic.Int32
	createDelay atomic.Int64
}

func (c *countingDecoder) CreateRecording(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error {
	time.Sleep(time.Duration(c.createDelay.Load()))
	return c.Applier.CreateRecording(ctx, payload, desc)
}

func (c *countingDecoder) FinalizeRecording(ctx context.Context, id string) error {
	c.finalized.Add(1)
	return c.Applier.FinalizeRecording(ctx, id)
}

// recordingDelegate records delegate notifications. onClose, when set, runs
// after the close is recorded.
type recordingDelegate struct {
	mu       sync.Mutex
	loaded   int
	closed   int
	closeErr error
	onClose  func(t *Target)
}

func (d *recordingDelegate) ProfilingTargetDidLoadDeviceInfo(*Target) {
	d.mu.Lock()
	d.loaded++
	d.mu.Unlock()
}

func (d *recordingDelegate) ConnectionDidCloseForProfilingTarget(t *Target, cause error) {
	d.mu.Lock()
	d.closed++
	d.closeErr = cause
	onClose := d.onClose
	d.mu.Unlock()
	if onClose != nil {
		onClose(t)
	}
}

func (d *recordingDelegate) counts() (loaded, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded, d.closed
}

type harness struct {
	target   *Target
	device   *fakeDevice
	store    *store.Memory
	decoder  *countingDecoder
	delegate *recordingDelegate
	registry *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hostEnd, deviceEnd := transport.Pipe()
	mem := store.NewMemory()
	logger := testutil.NewTestLogger(t)
	h := &harness{
		device:   newFakeDevice(deviceEnd),
		store:    mem,
		decoder:  &countingDecoder{Applier: story.NewApplier(mem, logger)},
		delegate: &recordingDelegate{},
		registry: NewRegistry(),
	}

	dialer := transport.DialerFunc(func(context.Context, string) (transport.Conn, error) {
		return hostEnd, nil
	})
	tgt, err := New(Config{
		ID:       "device-1",
		Address:  "pipe",
		Dialer:   dialer,
		Decoder:  h.decoder,
		Registry: h.registry,
		Delegate: h.delegate,
		Logger:   logger,
	})
	require.NoError(t, err)
	h.target = tgt

	t.Cleanup(func() {
		_ = tgt.Close()
		_ = deviceEnd.Close()
	})
	return h
}

// startRecording drives the target to the Recording state.
func (h *harness) startRecording(t *testing.T) {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	require.NoError(t, h.target.Resolve(ctx))
	_, err := h.target.LoadDeviceInfo(ctx)
	require.NoError(t, err)
	require.NoError(t, h.target.StartProfiling(ctx, []byte("sample_interval: 10ms")))
	require.Equal(t, StateRecording, h.target.State())
}

// waitRequest returns the next request of type typ the device received.
func (h *harness) waitRequest(t *testing.T, typ wire.CommandType) *wire.Envelope {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-h.device.received:
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("device never received %s", typ)
		}
	}
}

func TestTarget_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	assert.Equal(t, StateDiscovered, h.target.State())

	require.NoError(t, h.target.Resolve(ctx))
	assert.Equal(t, StateResolved, h.target.State())

	info, err := h.target.LoadDeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDeviceInfoLoaded, h.target.State())
	assert.Equal(t, "Demo", info.AppName)
	assert.Equal(t, "Pixel 9", info.DeviceName)
	assert.Equal(t, "15", info.DeviceOS)
	assert.Equal(t, story.OSAndroid, info.DeviceOSType)
	extra, ok := info.Values.Get("screenDensity")
	require.True(t, ok)
	assert.Equal(t, "420", extra.String())
	assert.Equal(t, info, h.target.DeviceInfo())

	loaded, _ := h.delegate.counts()
	assert.Equal(t, 1, loaded)

	config := []byte("sample_interval: 10ms\nadvanced: true\n")
	require.NoError(t, h.target.StartProfiling(ctx, config))
	assert.Equal(t, StateRecording, h.target.State())
	start := h.waitRequest(t, wire.CommandStartProfilingWithConfiguration)
	assert.Equal(t, config, start.Configuration)

	enc := h.device.enc
	root := &story.SampleGroup{ID: "G1", RecordingID: "R1", Name: "main", StartTime: t0}
	require.NoError(t, enc.CreateRecording(&story.Recording{ID: "R1", Name: "session", StartTime: t0}))
	require.NoError(t, enc.PushSampleGroup(root, true))
	require.NoError(t, enc.AddPerformanceSample(&story.PerformanceSample{
		ID: "P1", RecordingID: "R1", ParentGroupID: "G1", Timestamp: t0.Add(time.Second), CPUUsage: 42.5,
	}))
	end := t0.Add(2 * time.Second)
	require.NoError(t, enc.PopSampleGroup(&story.SampleGroup{ID: "G1", RecordingID: "R1", EndTime: &end}))
	require.NoError(t, enc.UpdateRecording(&story.Recording{ID: "R1"}, true))

	require.NoError(t, h.target.StopProfiling(ctx))
	assert.Equal(t, StateStopped, h.target.State())
	assert.Equal(t, []string{"R1"}, h.target.Recordings())

	tl, err := h.store.Load(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, tl.Recording.Stopped)
	require.Len(t, tl.Groups, 1)
	assert.True(t, tl.Groups[0].IsRootGroup)
	require.True(t, tl.Groups[0].Closed())
	assert.Equal(t, end, *tl.Groups[0].EndTime)
	require.Len(t, tl.Performance, 1)
	assert.Equal(t, "G1", tl.Performance[0].ParentGroupID)
	assert.InDelta(t, 42.5, tl.Performance[0].CPUUsage, 1e-9)

	require.NoError(t, h.target.Close())
	_, closed := h.delegate.counts()
	assert.Equal(t, 1, closed)
	assert.NoError(t, h.target.Err())
	assert.Equal(t, 0, h.registry.Count())
}

func TestTarget_StateErrors(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	err := h.target.StartProfiling(ctx, nil)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateDiscovered, se.State)

	_, err = h.target.LoadDeviceInfo(ctx)
	assert.True(t, IsStateError(err))
	_, err = h.target.Ping(ctx)
	assert.True(t, IsStateError(err))

	require.NoError(t, h.target.Resolve(ctx))
	assert.True(t, IsStateError(h.target.Resolve(ctx)))

	// Recording cannot be reached without passing DeviceInfoLoaded.
	err = h.target.StartProfiling(ctx, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateResolved, se.State)
	assert.Equal(t, []State{StateDeviceInfoLoaded}, se.Want)
	assert.Equal(t, StateResolved, h.target.State())
	assert.True(t, IsStateError(h.target.StopProfiling(ctx)))

	_, err = h.target.LoadDeviceInfo(ctx)
	require.NoError(t, err)
	require.NoError(t, h.target.StartProfiling(ctx, nil))
	h.waitRequest(t, wire.CommandStartProfilingWithConfiguration)

	err = h.target.StartProfiling(ctx, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateRecording, se.State)
	assert.Equal(t, StateRecording, h.target.State())

	// The rejected start never reached the wire.
	_, err = h.target.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.CommandPing, h.waitRequest(t, wire.CommandPing).Type)
	for len(h.device.received) > 0 {
		assert.NotEqual(t, wire.CommandStartProfilingWithConfiguration, (<-h.device.received).Type)
	}
}

func TestTarget_ConcurrentStartRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	require.NoError(t, h.target.Resolve(ctx))
	_, err := h.target.LoadDeviceInfo(ctx)
	require.NoError(t, err)

	h.device.setHandler(func(req *wire.Envelope) *wire.Envelope {
		time.Sleep(20 * time.Millisecond)
		return req.Reply()
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- h.target.StartProfiling(ctx, nil) }()
	}

	var ok, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case IsStateError(err):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, StateRecording, h.target.State())
}

func TestTarget_RemoteErrorKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	require.NoError(t, h.target.Resolve(ctx))
	_, err := h.target.LoadDeviceInfo(ctx)
	require.NoError(t, err)

	h.device.setHandler(func(req *wire.Envelope) *wire.Envelope {
		reply := req.Reply()
		reply.Error = "profiler busy"
		return reply
	})

	err = h.target.StartProfiling(ctx, nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "profiler busy", re.Message)
	assert.Equal(t, wire.CommandStartProfilingWithConfiguration, re.Command)
	assert.Equal(t, StateDeviceInfoLoaded, h.target.State())
}

func TestTarget_DropFinalizesOnce(t *testing.T) {
	h := newHarness(t)
	h.startRecording(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	enc := h.device.enc
	require.NoError(t, enc.CreateRecording(&story.Recording{ID: "R1", StartTime: t0}))
	require.NoError(t, enc.PushSampleGroup(&story.SampleGroup{ID: "G1", RecordingID: "R1", Name: "main", StartTime: t0}, true))
	require.NoError(t, enc.PushSampleGroup(&story.SampleGroup{ID: "G2", RecordingID: "R1", Name: "load", StartTime: t0.Add(time.Second)}, false))
	require.True(t, testutil.Eventually(5*time.Second, func() bool {
		return len(h.decoder.OpenGroups("R1", 0)) == 2
	}))

	require.NoError(t, h.device.conn.Close())

	select {
	case <-h.target.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("target was not torn down after the connection dropped")
	}
	require.NoError(t, h.target.Close())
	require.NoError(t, h.target.Close())

	assert.Equal(t, StateStopped, h.target.State())
	assert.Equal(t, int32(1), h.decoder.finalized.Load())
	_, closed := h.delegate.counts()
	assert.Equal(t, 1, closed)
	assert.True(t, IsTransportError(h.target.Err()))

	tl, err := h.store.Load(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, tl.Recording.Stopped)
	require.NotNil(t, tl.Recording.EndTime)
	for _, g := range tl.Groups {
		assert.True(t, g.Closed(), "group %s left open", g.ID)
	}

	_, err = h.target.Ping(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.target.StopProfiling(ctx), ErrClosed)
}

func TestTarget_StopFinalizesRecordingStillQueued(t *testing.T) {
	h := newHarness(t)
	h.startRecording(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	h.decoder.createDelay.Store(int64(150 * time.Millisecond))
	// The target acknowledges Stop without ever sending updateRecording.
	require.NoError(t, h.device.enc.CreateRecording(&story.Recording{ID: "R1", StartTime: t0}))

	require.NoError(t, h.target.StopProfiling(ctx))
	assert.Equal(t, StateStopped, h.target.State())
	assert.Equal(t, []string{"R1"}, h.target.Recordings())
	assert.Equal(t, int32(1), h.decoder.finalized.Load())

	rec, ok := h.decoder.Recording("R1")
	require.True(t, ok)
	assert.True(t, rec.Stopped, "recording left open after stop")
	assert.Empty(t, h.decoder.ActiveRecordings())
}

func TestTarget_DelegateMayCloseOnDrop(t *testing.T) {
	h := newHarness(t)
	h.startRecording(t)

	closedFromDelegate := make(chan struct{})
	h.delegate.mu.Lock()
	h.delegate.onClose = func(tgt *Target) {
		_ = tgt.Close()
		close(closedFromDelegate)
	}
	h.delegate.mu.Unlock()

	require.NoError(t, h.device.conn.Close())

	select {
	case <-closedFromDelegate:
	case <-time.After(5 * time.Second):
		t.Fatal("Close from the delegate did not return")
	}
	_, closed := h.delegate.counts()
	assert.Equal(t, 1, closed)
	assert.True(t, IsTransportError(h.target.Err()))
	assert.True(t, testutil.Eventually(5*time.Second, func() bool {
		return h.registry.Count() == 0
	}))
}

func TestTarget_PendingCommandFailsOnDrop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, h.target.Resolve(ctx))

	h.device.setHandler(func(req *wire.Envelope) *wire.Envelope {
		_ = h.device.conn.Close()
		return nil
	})

	_, err := h.target.Ping(ctx)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, h.target.Close())
	_, closed := h.delegate.counts()
	assert.Equal(t, 1, closed)
}

func TestTarget_ProtocolErrorClosesTarget(t *testing.T) {
	h := newHarness(t)
	h.startRecording(t)
	require.NoError(t, h.device.enc.CreateRecording(&story.Recording{ID: "R1", StartTime: t0}))
	require.True(t, testutil.Eventually(5*time.Second, func() bool {
		_, ok := h.decoder.Recording("R1")
		return ok
	}))

	// Command type 99 is outside the closed enumeration.
	body := protowire.AppendTag(nil, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 99)
	require.NoError(t, h.device.conn.WriteFrame(body))

	select {
	case <-h.target.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("target survived a protocol error")
	}
	require.NoError(t, h.target.Close())

	assert.True(t, wire.IsProtocolError(h.target.Err()))
	h.delegate.mu.Lock()
	assert.True(t, wire.IsProtocolError(h.delegate.closeErr))
	h.delegate.mu.Unlock()

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	tl, err := h.store.Load(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, tl.Recording.Stopped)
}

func TestTarget_SequencingErrorKeepsStreaming(t *testing.T) {
	h := newHarness(t)
	h.startRecording(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	enc := h.device.enc
	require.NoError(t, enc.CreateRecording(&story.Recording{ID: "R1", StartTime: t0}))
	require.NoError(t, enc.PushSampleGroup(&story.SampleGroup{ID: "G1", RecordingID: "R1", StartTime: t0}, true))
	require.NoError(t, enc.FinishWithResponse(&story.NetworkSample{
		ID: "N-unknown", RecordingID: "R1", Timestamp: t0, ResponseStatusCode: 200,
	}))
	require.NoError(t, enc.AddTag(&story.Tag{ID: "T1", RecordingID: "R1", Timestamp: t0.Add(time.Second)}))

	require.NoError(t, h.target.StopProfiling(ctx))

	tl, err := h.store.Load(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, tl.Network)
	require.Len(t, tl.Tags, 1)
	assert.Equal(t, "G1", tl.Tags[0].ParentGroupID)
	assert.True(t, tl.Recording.Stopped)
}

func TestTarget_AnswersTargetPing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, h.target.Resolve(ctx))

	ping := wire.NewRequest(wire.CommandPing, 7)
	require.NoError(t, h.device.send(ping))

	select {
	case env := <-h.device.received:
		assert.True(t, env.Response)
		assert.Equal(t, wire.CommandPing, env.Type)
		assert.Equal(t, uint64(7), env.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not answer the target's ping")
	}
}

func TestTarget_DialFailureStaysDiscovered(t *testing.T) {
	dialErr := errors.New("connection refused")
	tgt, err := New(Config{
		Address: "127.0.0.1:1",
		Dialer: transport.DialerFunc(func(context.Context, string) (transport.Conn, error) {
			return nil, dialErr
		}),
		Decoder: &countingDecoder{Applier: story.NewApplier(store.NewMemory(), testutil.NewTestLogger(t))},
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer func() { _ = tgt.Close() }()
	assert.NotEmpty(t, tgt.ID())

	err = tgt.Resolve(context.Background())
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, StateDiscovered, tgt.State())
}

func TestNew_Validation(t *testing.T) {
	dec := &countingDecoder{Applier: story.NewApplier(store.NewMemory(), testutil.NewTestLogger(t))}
	dialer := transport.DialerFunc(func(context.Context, string) (transport.Conn, error) { return nil, nil })

	_, err := New(Config{Dialer: dialer, Decoder: dec})
	assert.Error(t, err)
	_, err = New(Config{Address: "x", Decoder: dec})
	assert.Error(t, err)
	_, err = New(Config{Address: "x", Dialer: dialer})
	assert.Error(t, err)

	reg := NewRegistry()
	first, err := New(Config{ID: "dup", Address: "x", Dialer: dialer, Decoder: dec, Registry: reg})
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	_, err = New(Config{ID: "dup", Address: "x", Dialer: dialer, Decoder: dec, Registry: reg})
	assert.Error(t, err)
}

func TestParseDeviceInfo(t *testing.T) {
	tests := []struct {
		name string
		in   wire.Value
		want story.OSType
	}{
		{"enum value", wire.Int(int64(story.OSiOS)), story.OSiOS},
		{"name", wire.String("Linux"), story.OSLinux},
		{"darwin", wire.String("darwin"), story.OSMacOS},
		{"unknown name", wire.String("plan9"), story.OSUnknown},
		{"out of range", wire.Int(99), story.OSUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := parseDeviceInfo(wire.NewMap().Set(KeyDeviceOSType, tt.in))
			assert.Equal(t, tt.want, info.DeviceOSType)
		})
	}

	empty := parseDeviceInfo(nil)
	assert.NotNil(t, empty.Values)
	assert.Equal(t, story.OSUnknown, empty.DeviceOSType)
}
