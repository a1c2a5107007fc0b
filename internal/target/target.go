// Package target drives the host side of one remote profiling target: the
// connection lifecycle, the request/response commands, and the routing of
// streamed story events to a story decoder.
package target

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	errs "github.com/coral-mesh/remoteprof/internal/errors"
	"github.com/coral-mesh/remoteprof/internal/metrics"
	"github.com/coral-mesh/remoteprof/internal/story"
	"github.com/coral-mesh/remoteprof/internal/transport"
	"github.com/coral-mesh/remoteprof/internal/wire"
	"github.com/coral-mesh/remoteprof/internal/worker"
)

// DefaultWorkers is the number of concurrent decode tasks per target.
const DefaultWorkers = 4

// Decoder applies story events and can force a recording to its stopped
// state. *story.Applier implements it.
type Decoder interface {
	story.Decoder
	FinalizeRecording(ctx context.Context, id string) error
}

// Config configures a Target.
type Config struct {
	// ID identifies the target. A random id is generated when empty.
	ID      string
	Address string
	Dialer  transport.Dialer
	Decoder Decoder

	// Workers bounds concurrent decode of different recordings.
	Workers int

	// Registry, when set, holds the target and Delegate until teardown.
	Registry *Registry
	Delegate Delegate

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type pendingCommand struct {
	typ  wire.CommandType
	resp chan *wire.Envelope
}

// Target is one remote profiling target.
//
// Commands are serialized: at most one is in flight, and a command waiting
// for its turn re-checks the state once it gets it. Story events are read on
// a dedicated goroutine and decoded on a per-target worker pool, in order
// per recording.
type Target struct {
	id       string
	addr     string
	dialer   transport.Dialer
	decoder  Decoder
	registry *Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	pool     *worker.Pool

	mu         sync.Mutex
	state      State
	conn       transport.Conn
	info       DeviceInfo
	recordings map[string]struct{}
	cause      error
	readDone   chan struct{}

	cmdSlot   chan struct{}
	seq       atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]pendingCommand

	lastSeen     atomic.Int64
	closing      atomic.Bool
	done         chan struct{}
	teardownOnce sync.Once
	// notified is closed once the delegate has been told about the close.
	notified  chan struct{}
	notifying atomic.Bool
}

// New creates a target in the Discovered state.
func New(cfg Config) (*Target, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("target address cannot be empty")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("target dialer is required")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("target decoder is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	logger := cfg.Logger.With().
		Str("component", "target").
		Str("target_id", cfg.ID).
		Logger()

	t := &Target{
		id:         cfg.ID,
		addr:       cfg.Address,
		dialer:     cfg.Dialer,
		decoder:    cfg.Decoder,
		registry:   cfg.Registry,
		metrics:    cfg.Metrics,
		logger:     logger,
		pool:       worker.New(context.Background(), cfg.Workers, logger),
		state:      StateDiscovered,
		recordings: make(map[string]struct{}),
		cmdSlot:    make(chan struct{}, 1),
		pending:    make(map[uint64]pendingCommand),
		done:       make(chan struct{}),
		notified:   make(chan struct{}),
	}

	if cfg.Registry != nil {
		if err := cfg.Registry.add(t, cfg.Delegate); err != nil {
			t.pool.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *Target) ID() string      { return t.id }
func (t *Target) Address() string { return t.addr }

// State returns the current lifecycle state.
func (t *Target) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// DeviceInfo returns the cached device info. It is zero before
// LoadDeviceInfo succeeds.
func (t *Target) DeviceInfo() DeviceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// LastSeen returns when the last frame was received from the target, or the
// zero time before the first one.
func (t *Target) LastSeen() time.Time {
	ns := t.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Recordings returns the sorted ids of recordings this target created.
func (t *Target) Recordings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.recordings))
	for id := range t.recordings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Done is closed when the target has been torn down.
func (t *Target) Done() <-chan struct{} { return t.done }

// Err returns the reason the target was torn down: nil while open and after
// an explicit Close.
func (t *Target) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// acquire takes the command slot. The caller must release it.
func (t *Target) acquire(ctx context.Context) error {
	select {
	case t.cmdSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	}
	if t.closing.Load() {
		t.release()
		return ErrClosed
	}
	return nil
}

func (t *Target) release() { <-t.cmdSlot }

func (t *Target) checkState(op string, want ...State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range want {
		if t.state == s {
			return nil
		}
	}
	return &StateError{Op: op, State: t.state, Want: want}
}

// setState is a no-op once teardown has begun.
func (t *Target) setState(s State) {
	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = s
	t.mu.Unlock()
	t.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("Target state changed")
}

// Resolve connects to the target and starts reading from it.
func (t *Target) Resolve(ctx context.Context) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.checkState("resolve", StateDiscovered); err != nil {
		return err
	}

	conn, err := t.dialer.Dial(ctx, t.addr)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		errs.DeferClose(t.logger, conn, "Failed to close connection")
		return ErrClosed
	}
	t.conn = conn
	t.state = StateResolved
	t.readDone = make(chan struct{})
	t.mu.Unlock()

	t.lastSeen.Store(time.Now().UnixNano())
	t.metrics.TargetConnected()
	go t.readLoop(conn)

	t.logger.Info().Str("address", conn.RemoteAddr()).Msg("Connected to target")
	return nil
}

// Ping round-trips a Ping command and returns the elapsed time.
func (t *Target) Ping(ctx context.Context) (time.Duration, error) {
	if err := t.acquire(ctx); err != nil {
		return 0, err
	}
	defer t.release()

	if err := t.checkState("ping", StateResolved, StateDeviceInfoLoaded, StateRecording, StateStopped); err != nil {
		return 0, err
	}

	start := time.Now()
	_, err := t.roundTrip(ctx, wire.NewRequest(wire.CommandPing, 0))
	t.metrics.Command(wire.CommandPing.String(), err)
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// LoadDeviceInfo fetches and caches the target's device info, then notifies
// the delegate.
func (t *Target) LoadDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	if err := t.acquire(ctx); err != nil {
		return DeviceInfo{}, err
	}
	defer t.release()

	if err := t.checkState("load device info", StateResolved); err != nil {
		return DeviceInfo{}, err
	}

	resp, err := t.roundTrip(ctx, wire.NewRequest(wire.CommandGetDeviceInfo, 0))
	t.metrics.Command(wire.CommandGetDeviceInfo.String(), err)
	if err != nil {
		return DeviceInfo{}, err
	}

	info := parseDeviceInfo(resp.Payload)
	t.mu.Lock()
	t.info = info
	t.mu.Unlock()
	t.setState(StateDeviceInfoLoaded)

	t.logger.Info().
		Str("app", info.AppName).
		Str("device", info.DeviceName).
		Str("os", info.DeviceOS).
		Stringer("os_type", info.DeviceOSType).
		Msg("Loaded device info")

	if d := t.registry.Delegate(t.id); d != nil {
		d.ProfilingTargetDidLoadDeviceInfo(t)
	}
	return info, nil
}

// StartProfiling sends the opaque profiling configuration and, once the
// target acknowledges it, moves to Recording. Calling it again while
// recording fails with a StateError.
func (t *Target) StartProfiling(ctx context.Context, configuration []byte) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.checkState("start profiling", StateDeviceInfoLoaded); err != nil {
		return err
	}

	req := wire.NewRequest(wire.CommandStartProfilingWithConfiguration, 0)
	req.Configuration = configuration
	_, err := t.roundTrip(ctx, req)
	t.metrics.Command(wire.CommandStartProfilingWithConfiguration.String(), err)
	if err != nil {
		return err
	}

	t.setState(StateRecording)
	t.logger.Info().Int("config_bytes", len(configuration)).Msg("Profiling started")
	return nil
}

// StopProfiling asks the target to stop, waits until every event received
// before the acknowledgement has been applied, and finalizes the recordings
// the target created.
func (t *Target) StopProfiling(ctx context.Context) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.checkState("stop profiling", StateRecording); err != nil {
		return err
	}

	_, err := t.roundTrip(ctx, wire.NewRequest(wire.CommandStopProfiling, 0))
	t.metrics.Command(wire.CommandStopProfiling.String(), err)
	if err != nil {
		return err
	}

	// A createRecording still queued behind the acknowledgement only joins
	// t.recordings once applied, so drain before listing.
	if err := t.pool.Flush(ctx); err != nil {
		return fmt.Errorf("wait for story events: %w", err)
	}
	for _, id := range t.Recordings() {
		if err := t.pool.Submit(id, func(ctx context.Context) {
			t.finalizeRecording(ctx, id)
		}); err != nil {
			return ErrClosed
		}
	}
	if err := t.pool.Flush(ctx); err != nil {
		return fmt.Errorf("finalize recordings: %w", err)
	}

	t.setState(StateStopped)
	t.logger.Info().Msg("Profiling stopped")
	return nil
}

// Close tears the target down: pending commands fail, queued story events
// are dropped, recordings are finalized and the delegate is notified. It is
// safe to call more than once.
func (t *Target) Close() error {
	t.teardown(nil)

	t.mu.Lock()
	readDone := t.readDone
	t.mu.Unlock()
	if readDone != nil {
		<-readDone
	}
	return nil
}

// roundTrip sends req with a fresh sequence number and waits for the
// matching response. The caller holds the command slot.
func (t *Target) roundTrip(ctx context.Context, req *wire.Envelope) (*wire.Envelope, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	req.Seq = t.seq.Add(1)
	ch := make(chan *wire.Envelope, 1)

	t.pendingMu.Lock()
	t.pending[req.Seq] = pendingCommand{typ: req.Type, resp: ch}
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, req.Seq)
		t.pendingMu.Unlock()
	}()

	body, err := wire.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Type, err)
	}
	if err := conn.WriteFrame(body); err != nil {
		terr := &TransportError{Op: "write " + req.Type.String(), Err: err}
		t.teardown(terr)
		return nil, terr
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, &RemoteError{Command: req.Type, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, &TransportError{Op: req.Type.String(), Err: ErrClosed}
	}
}

func (t *Target) readLoop(conn transport.Conn) {
	t.mu.Lock()
	readDone := t.readDone
	t.mu.Unlock()

	err := t.readFrames(conn)
	// Release Close before teardown so a delegate may call it.
	close(readDone)
	t.readFailed(err)
}

// readFrames handles frames until the connection or a frame fails.
func (t *Target) readFrames(conn transport.Conn) error {
	for {
		body, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		t.lastSeen.Store(time.Now().UnixNano())

		env, err := wire.Decode(body)
		if err != nil {
			return err
		}
		if err := t.handle(conn, env); err != nil {
			return err
		}
	}
}

func (t *Target) readFailed(err error) {
	if t.closing.Load() {
		return
	}
	if wire.IsProtocolError(err) {
		t.metrics.ProtocolError()
		t.logger.Error().Err(err).Msg("Protocol error, closing target")
		t.teardown(err)
		return
	}
	if transport.IsClosed(err) {
		t.logger.Info().Msg("Target closed the connection")
	}
	t.teardown(&TransportError{Op: "read", Err: err})
}

func (t *Target) handle(conn transport.Conn, env *wire.Envelope) error {
	if env.Response {
		t.pendingMu.Lock()
		cmd, ok := t.pending[env.Seq]
		delete(t.pending, env.Seq)
		t.pendingMu.Unlock()

		if !ok {
			t.logger.Debug().Uint64("seq", env.Seq).Stringer("command", env.Type).Msg("Dropping unsolicited response")
			return nil
		}
		if cmd.typ != env.Type {
			return &wire.ProtocolError{
				Op:  "response",
				Err: fmt.Errorf("seq %d answered %s with %s", env.Seq, cmd.typ, env.Type),
			}
		}
		cmd.resp <- env
		return nil
	}

	switch env.Type {
	case wire.CommandProfilingStoryEvent:
		t.enqueue(env)
		return nil
	case wire.CommandPing:
		return t.reply(conn, env.Reply())
	default:
		reply := env.Reply()
		reply.Error = "unsupported command " + env.Type.String()
		return t.reply(conn, reply)
	}
}

func (t *Target) reply(conn transport.Conn, env *wire.Envelope) error {
	body, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s reply: %w", env.Type, err)
	}
	if err := conn.WriteFrame(body); err != nil {
		return &TransportError{Op: "write " + env.Type.String() + " reply", Err: err}
	}
	return nil
}

func (t *Target) enqueue(env *wire.Envelope) {
	ev, err := story.EventFromEnvelope(env)
	if err != nil {
		t.metrics.StoryEvent(env.Event.String(), metrics.ResultDecode, 0)
		t.logger.Warn().Err(err).Msg("Rejected story event")
		return
	}

	if err := t.pool.Submit(story.RecordingKey(ev), func(ctx context.Context) {
		t.apply(ctx, ev)
	}); err != nil {
		t.metrics.DroppedEvents(1)
	}
}

func (t *Target) apply(ctx context.Context, ev story.Event) {
	if t.closing.Load() {
		t.metrics.DroppedEvents(1)
		return
	}

	recordingID := story.RecordingKey(ev)
	start := time.Now()
	err := story.Dispatch(ctx, t.decoder, ev)
	t.metrics.StoryEvent(ev.Kind.String(), resultOf(err), time.Since(start))

	if err == nil {
		if ev.Kind == wire.EventCreateRecording {
			t.mu.Lock()
			t.recordings[recordingID] = struct{}{}
			t.mu.Unlock()
		}
		return
	}

	logEvent := t.logger.Error()
	if story.IsSequencingError(err) || story.IsDecodeError(err) {
		logEvent = t.logger.Warn()
	}
	logEvent.Err(err).
		Str("recording_id", recordingID).
		Stringer("event", ev.Kind).
		Msg("Rejected story event")
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case story.IsSequencingError(err):
		return metrics.ResultSequencing
	case story.IsDecodeError(err):
		return metrics.ResultDecode
	default:
		return metrics.ResultStore
	}
}

func (t *Target) finalizeRecording(ctx context.Context, id string) {
	if err := t.decoder.FinalizeRecording(ctx, id); err != nil {
		t.logger.Error().Err(err).Str("recording_id", id).Msg("Failed to finalize recording")
	}
}

// teardown runs once. Later calls block until the delegate has been
// notified, except calls made from the delegate itself.
func (t *Target) teardown(cause error) {
	first := false
	t.teardownOnce.Do(func() {
		first = true
		t.closing.Store(true)

		t.mu.Lock()
		conn := t.conn
		prev := t.state
		t.state = StateStopped
		t.cause = cause
		t.mu.Unlock()
		close(t.done)

		if conn != nil {
			errs.DeferClose(t.logger, conn, "Failed to close target connection")
			t.metrics.TargetDisconnected()
		}

		t.metrics.DroppedEvents(t.pool.Close())

		ctx := context.Background()
		for _, id := range t.Recordings() {
			t.finalizeRecording(ctx, id)
		}

		logEvent := t.logger.Info()
		if cause != nil && !errors.Is(cause, ErrClosed) {
			logEvent = logEvent.Err(cause)
		}
		logEvent.Stringer("state", prev).Msg("Target closed")
	})
	if !first {
		if !t.notifying.Load() {
			<-t.notified
		}
		return
	}

	t.notifying.Store(true)
	if d := t.registry.Delegate(t.id); d != nil {
		d.ConnectionDidCloseForProfilingTarget(t, cause)
	}
	if t.registry != nil {
		t.registry.Remove(t.id)
	}
	t.notifying.Store(false)
	close(t.notified)
}
