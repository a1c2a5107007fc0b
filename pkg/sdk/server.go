package sdk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/remoteprof/internal/story"
	"github.com/coral-mesh/remoteprof/internal/transport"
	"github.com/coral-mesh/remoteprof/internal/wire"
	"github.com/coral-mesh/remoteprof/pkg/version"
)

// ErrAlreadyRecording is reported to a host that starts profiling while
// another recording is active.
var ErrAlreadyRecording = errors.New("already recording")

// Server is the profiling endpoint embedded in a target process. At most one
// recording is active per server.
type Server struct {
	cfg     Config
	logger  zerolog.Logger
	sampler Sampler
	info    map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	addr     string
	conns    map[transport.Conn]struct{}
	active   *Profiler
	starting bool
}

// New creates a server. The process sampler is used unless cfg.Sampler is
// set.
func New(cfg Config) (*Server, error) {
	sampler := cfg.Sampler
	if sampler == nil {
		ps, err := NewProcessSampler()
		if err != nil {
			return nil, fmt.Errorf("failed to create process sampler: %w", err)
		}
		sampler = ps
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "profiling-sdk").Logger(),
		sampler: sampler,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[transport.Conn]struct{}),
	}
	s.info = s.deviceInfo()
	return s, nil
}

func (s *Server) deviceInfo() map[string]string {
	info := hostDeviceInfo(s.ctx)
	for k, v := range s.cfg.DeviceInfo {
		info[k] = v
	}
	info["appName"] = s.cfg.AppName
	if info["appName"] == "" {
		if exe, err := os.Executable(); err == nil {
			info["appName"] = filepath.Base(exe)
		}
	}
	if s.cfg.DeviceName != "" {
		info["deviceName"] = s.cfg.DeviceName
	}
	info["protocolVersion"] = version.ProtocolVersion
	info["sdkVersion"] = version.Version
	return info
}

// Start listens on cfg.Listen and serves host connections in the background.
func (s *Server) Start() error {
	addr := s.cfg.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", s.addr).Msg("Profiling server started")
		s.acceptLoop(listener)
	}()
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		c, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error().Err(err).Msg("Accept failed")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.Serve(s.ctx, transport.NewStream(c, s.cfg.MaxFrameSize))
		}()
	}
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// WebSocketHandler serves hosts connecting over WebSocket.
func (s *Server) WebSocketHandler() http.Handler {
	return transport.WebSocketHandler(s.logger, s.cfg.MaxFrameSize, func(c transport.Conn) {
		_ = s.Serve(s.ctx, c)
	})
}

// Profiler returns the active recording, or nil when no host is recording.
func (s *Server) Profiler() *Profiler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop closes the listener and every host connection, then waits for the
// connection handlers to exit.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping profiling server")
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve handles one host connection until it closes or ctx ends. Serve
// closes conn.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	sess := &session{server: s, conn: conn, ctx: ctx}
	sess.enc = story.NewEncoder(story.EmitterFunc(sess.send))
	sess.logger = s.logger.With().Str("remote", conn.RemoteAddr()).Logger()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sess.logger.Info().Msg("Host connected")
	err := sess.run()
	sess.abandon()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()

	if err != nil && !transport.IsClosed(err) {
		sess.logger.Warn().Err(err).Msg("Host connection failed")
		return err
	}
	sess.logger.Info().Msg("Host disconnected")
	return nil
}

type session struct {
	server *Server
	conn   transport.Conn
	ctx    context.Context
	enc    *story.Encoder
	logger zerolog.Logger

	// profiler and stopSampling are only touched by the read goroutine.
	profiler     *Profiler
	stopSampling context.CancelFunc
	samplingDone chan struct{}
}

func (ss *session) send(env *wire.Envelope) error {
	body, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return ss.conn.WriteFrame(body)
}

func (ss *session) run() error {
	for {
		body, err := ss.conn.ReadFrame()
		if err != nil {
			return err
		}
		env, err := wire.Decode(body)
		if err != nil {
			return err
		}
		if env.Response {
			ss.logger.Debug().Str("command", env.Type.String()).Msg("Ignoring response")
			continue
		}
		if err := ss.handle(env); err != nil {
			return err
		}
	}
}

// handle answers one host request. Only write failures are returned.
func (ss *session) handle(req *wire.Envelope) error {
	resp := req.Reply()
	switch req.Type {
	case wire.CommandPing:
	case wire.CommandGetDeviceInfo:
		resp.Payload = wire.FromStringMap(ss.server.info)
	case wire.CommandStartProfilingWithConfiguration:
		return ss.start(req, resp)
	case wire.CommandStopProfiling:
		return ss.stop(resp)
	default:
		resp.Error = "unsupported command " + req.Type.String()
	}
	return ss.send(resp)
}

func (ss *session) start(req, resp *wire.Envelope) error {
	cfg, err := ParseProfilingConfig(req.Configuration)
	if err != nil {
		resp.Error = err.Error()
		return ss.send(resp)
	}

	s := ss.server
	s.mu.Lock()
	busy := s.active != nil || s.starting
	if !busy {
		s.starting = true
	}
	s.mu.Unlock()
	if busy {
		resp.Error = ErrAlreadyRecording.Error()
		return ss.send(resp)
	}

	p, err := ss.begin(cfg, resp)

	s.mu.Lock()
	s.starting = false
	if err == nil {
		s.active = p
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	ss.profiler = p
	samplingCtx, cancel := context.WithCancel(ss.ctx)
	ss.stopSampling = cancel
	ss.samplingDone = make(chan struct{})
	go func() {
		defer close(ss.samplingDone)
		p.sampleLoop(samplingCtx, s.sampler, func(err error) {
			ss.logger.Warn().Err(err).Msg("Performance sample failed")
		})
	}()

	ss.logger.Info().
		Str("recording_id", p.RecordingID()).
		Dur("sample_interval", cfg.SampleInterval).
		Bool("advanced", cfg.Advanced).
		Msg("Profiling started")
	return nil
}

// begin acknowledges the start request, then creates the recording.
func (ss *session) begin(cfg ProfilingConfig, resp *wire.Envelope) (*Profiler, error) {
	if err := ss.send(resp); err != nil {
		return nil, err
	}
	info := ss.server.info
	osType, _ := strconv.Atoi(info["deviceOSType"])
	return startProfiler(ss.enc, cfg, recordingInfo{
		AppName:      info["appName"],
		DeviceName:   info["deviceName"],
		DeviceOS:     info["deviceOS"],
		DeviceOSType: story.OSType(osType),
	}, nil)
}

// stop ends the recording before acknowledging, so the host has every
// event of the recording once the response arrives.
func (ss *session) stop(resp *wire.Envelope) error {
	if ss.profiler == nil {
		resp.Error = ErrNotRecording.Error()
		return ss.send(resp)
	}
	p := ss.release()
	if err := p.stop(); err != nil {
		return err
	}
	ss.logger.Info().Str("recording_id", p.RecordingID()).Msg("Profiling stopped")
	return ss.send(resp)
}

// release halts sampling and clears the active recording.
func (ss *session) release() *Profiler {
	p := ss.profiler
	ss.profiler = nil
	ss.stopSampling()
	<-ss.samplingDone

	s := ss.server
	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()
	return p
}

// abandon ends a recording whose host went away.
func (ss *session) abandon() {
	if ss.profiler == nil {
		return
	}
	p := ss.release()
	_ = p.stop()
	ss.logger.Info().Str("recording_id", p.RecordingID()).Msg("Recording abandoned")
}
