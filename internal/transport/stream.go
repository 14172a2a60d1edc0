package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type dialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// deadlineSetter is implemented by net.Conn. Serial ports rely on their read
// timeout instead.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// frameStream carries PV frames over any byte stream. The ip and serial
// transports differ only in how they open it.
type frameStream struct {
	name   string
	target string
	dial   dialFunc

	mu      sync.Mutex
	rw      io.ReadWriteCloser
	writeMu sync.Mutex
}

func (s *frameStream) Name() string { return s.name }

func (s *frameStream) StatusTarget() string { return s.target }

func (s *frameStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := transportLogger(s.name, "target", s.target)
	if s.rw != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rw, err := s.dial(ctx)
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return err
	}
	s.rw = rw
	logger.Info("connected")
	return nil
}

func (s *frameStream) Close() error {
	s.mu.Lock()
	rw := s.rw
	s.rw = nil
	s.mu.Unlock()
	if rw == nil {
		return nil
	}

	logger := transportLogger(s.name, "target", s.target)
	if err := rw.Close(); err != nil {
		logger.Warn("close failed", "error", err)
		return err
	}
	logger.Info("closed")
	return nil
}

func (s *frameStream) ReadFrame(ctx context.Context) ([]byte, error) {
	rw, err := s.current()
	if err != nil {
		return nil, err
	}
	if d, ok := rw.(deadlineSetter); ok {
		_ = d.SetReadDeadline(deadlineFor(ctx))
	}

	payload, err := readFrame(func(buf []byte) error {
		return readFullContext(ctx, rw, buf)
	})
	if err != nil {
		transportLogger(s.name).Debug("read frame failed", "error", err)
		return nil, err
	}
	return payload, nil
}

func (s *frameStream) WriteFrame(ctx context.Context, payload []byte) error {
	rw, err := s.current()
	if err != nil {
		return err
	}
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d, ok := rw.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(deadlineFor(ctx))
	}
	if err := writeFullContext(ctx, rw, frame); err != nil {
		transportLogger(s.name).Warn("write frame failed", "frame_len", len(frame), "error", err)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *frameStream) current() (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rw == nil {
		return nil, ErrNotConnected
	}
	return s.rw, nil
}

// readFullContext fills buf, checking ctx between reads. Zero-length reads
// (a serial read timeout) are retried.
func readFullContext(ctx context.Context, r io.Reader, buf []byte) error {
	for read := 0; read < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 && read < len(buf) {
				return io.ErrUnexpectedEOF
			}
			if read < len(buf) {
				return err
			}
		}
	}
	return nil
}

func writeFullContext(ctx context.Context, w io.Writer, buf []byte) error {
	for written := 0; written < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
