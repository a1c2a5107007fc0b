package transport

import (
	"bufio"
	"net"
	"sync"

	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Stream frames envelopes over a byte stream such as TCP.
type Stream struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize int

	writeMu sync.Mutex
}

// NewStream wraps c. maxFrameSize <= 0 selects wire.DefaultMaxFrameSize.
func NewStream(c net.Conn, maxFrameSize int) *Stream {
	return &Stream{
		conn:    c,
		reader:  bufio.NewReaderSize(c, 64<<10),
		maxSize: maxFrameSize,
	}
}

func (s *Stream) ReadFrame() ([]byte, error) {
	return wire.ReadFrame(s.reader, s.maxSize)
}

func (s *Stream) WriteFrame(body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, body)
}

func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Pipe returns two connected in-memory streams.
func Pipe() (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a, 0), NewStream(b, 0)
}
