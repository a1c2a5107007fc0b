package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// frameHeaderSize is the length prefix size in bytes.
	frameHeaderSize = 4

	// DefaultMaxFrameSize bounds a single envelope body.
	DefaultMaxFrameSize = 16 << 20
)

// WriteFrame writes body prefixed with its big-endian uint32 length.
// Header and body go out in a single Write so concurrent writers guarded by
// a mutex never interleave partial frames.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return protoErr("write frame", "empty frame")
	}
	if uint64(len(body)) > uint64(^uint32(0)) {
		return protoErr("write frame", "frame of %d bytes exceeds 32-bit length", len(body))
	}
	buf := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[frameHeaderSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame.
//
// io.EOF is returned unchanged when the stream ends cleanly on a frame
// boundary. A stream that ends inside a frame, a zero length or a length
// above maxSize is a *ProtocolError. Other read errors are returned as-is.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Op: "read frame header", Err: err}
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, protoErr("read frame header", "zero-length frame")
	}
	if uint64(size) > uint64(maxSize) {
		return nil, protoErr("read frame header", "frame of %d bytes exceeds limit %d", size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Op: "read frame body", Err: fmt.Errorf("truncated after header: %w", io.ErrUnexpectedEOF)}
		}
		return nil, err
	}
	return body, nil
}
