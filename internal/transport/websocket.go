package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 6 * time.Second

// WebSocketTransport carries one protocol frame per binary message.
type WebSocketTransport struct {
	mu      sync.Mutex
	url     string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{url: url}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) SetURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
}

func (t *WebSocketTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if t.url == "" {
		return errors.New("websocket url is empty")
	}

	logger := transportLogger("websocket", "target", t.url)
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	logger.Info("connecting")
	conn, resp, err := dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return fmt.Errorf("dial websocket: %w", err)
	}
	t.conn = conn
	logger.Info("connected")
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(deadlineFor(ctx))
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read websocket message: %w", err)
		}
		if kind != websocket.BinaryMessage {
			transportLogger("websocket").Debug("ignoring non-binary message", "type", kind)
			continue
		}
		return payload, nil
	}
}

func (t *WebSocketTransport) WriteFrame(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadlineFor(ctx))
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}
