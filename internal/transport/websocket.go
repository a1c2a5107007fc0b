package transport

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/remoteprof/internal/wire"
)

// WebSocket carries one frame per binary WebSocket message.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebSocket wraps c and applies the frame size limit to reads.
func NewWebSocket(c *websocket.Conn, maxFrameSize int) *WebSocket {
	if maxFrameSize <= 0 {
		maxFrameSize = wire.DefaultMaxFrameSize
	}
	c.SetReadLimit(int64(maxFrameSize))
	return &WebSocket{conn: c}
}

func (w *WebSocket) ReadFrame() ([]byte, error) {
	typ, body, err := w.conn.ReadMessage()
	if err != nil {
		switch {
		case errors.Is(err, websocket.ErrReadLimit):
			return nil, &wire.ProtocolError{Op: "read websocket frame", Err: err}
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			return nil, io.EOF
		}
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, &wire.ProtocolError{Op: "read websocket frame", Err: errors.New("non-binary message")}
	}
	if len(body) == 0 {
		return nil, &wire.ProtocolError{Op: "read websocket frame", Err: errors.New("empty message")}
	}
	return body, nil
}

func (w *WebSocket) WriteFrame(body []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocket) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// WebSocketHandler upgrades HTTP requests and hands each connection to serve.
// serve owns the connection and must close it.
func WebSocketHandler(logger zerolog.Logger, maxFrameSize int, serve func(Conn)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}
		serve(NewWebSocket(ws, maxFrameSize))
	})
}
