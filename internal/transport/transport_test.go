package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	// Echo one frame back to the client.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		payload, err := readFrame(ioReadFullFunc(conn))
		if err != nil {
			return
		}
		frame, _ := encodeFrame(payload)
		_, _ = conn.Write(frame)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewIPTransport("127.0.0.1", addr.Port)
	if got := tr.StatusTarget(); got != "127.0.0.1:"+strconv.Itoa(addr.Port) {
		t.Fatalf("unexpected status target %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = tr.Close() }()

	if err := tr.WriteFrame(ctx, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("unexpected echo %q", got)
	}
}

func TestIPTransportRequiresHost(t *testing.T) {
	tr := NewIPTransport("", 0)
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty host")
	}
	if _, err := tr.ReadFrame(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, payload); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocketTransport(url)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = tr.Close() }()

	if err := tr.WriteFrame(ctx, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected payload %x", got)
	}
}

func TestMQTTTransportDefaults(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{Broker: "tcp://localhost:1883"})
	if tr.StatusTarget() != "tcp://localhost:1883/pvmon" {
		t.Fatalf("unexpected status target %q", tr.StatusTarget())
	}
	if !strings.HasPrefix(tr.cfg.ClientID, "pvmon-") {
		t.Fatalf("expected generated client id, got %q", tr.cfg.ClientID)
	}
	if err := tr.WriteFrame(context.Background(), []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := NewMQTTTransport(MQTTConfig{}).Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty broker")
	}
}

func TestSerialTransportRequiresPort(t *testing.T) {
	tr := NewSerialTransport("", 0)
	if tr.StatusTarget() != "" {
		t.Fatalf("expected empty status target, got %q", tr.StatusTarget())
	}
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty serial port")
	}
	if got := NewSerialTransport("/dev/ttyUSB0", 0).StatusTarget(); got != "/dev/ttyUSB0@115200" {
		t.Fatalf("unexpected status target %q", got)
	}
}

// stutterReader returns one byte per call with empty reads in between, like a
// serial port hitting its read timeout.
type stutterReader struct {
	data  []byte
	empty bool
}

func (r *stutterReader) Read(p []byte) (int, error) {
	r.empty = !r.empty
	if r.empty {
		return 0, nil
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestReadFullContextToleratesEmptyReads(t *testing.T) {
	frame, err := encodeFrame([]byte("value"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := &stutterReader{data: frame}
	got, err := readFrame(func(buf []byte) error {
		return readFullContext(context.Background(), r, buf)
	})
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("unexpected payload %q", got)
	}

	short := &stutterReader{data: []byte("ab")}
	buf := make([]byte, 4)
	if err := readFullContext(context.Background(), short, buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := readFullContext(ctx, &stutterReader{data: frame}, buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFrameStreamOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	s := &frameStream{
		name:   "pipe",
		target: "pipe",
		dial: func(context.Context) (io.ReadWriteCloser, error) {
			return client, nil
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	go func() {
		payload, err := readFrame(ioReadFullFunc(server))
		if err != nil {
			return
		}
		frame, _ := encodeFrame(append(payload, '!'))
		_, _ = server.Write(frame)
	}()

	if err := s.WriteFrame(ctx, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hi!" {
		t.Fatalf("unexpected reply %q", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.WriteFrame(ctx, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}
