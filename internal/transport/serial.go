package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud        = 115200
	defaultSerialReadTimeout = 300 * time.Millisecond
)

// SerialTransport speaks the framed protocol over a serial line, e.g. to a
// gateway that bridges a field bus.
type SerialTransport struct {
	frameStream
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultSerialBaud
	}
	var target string
	if portName != "" {
		target = fmt.Sprintf("%s@%d", portName, baudRate)
	}

	return &SerialTransport{frameStream: frameStream{
		name:   "serial",
		target: target,
		dial: func(_ context.Context) (io.ReadWriteCloser, error) {
			return openSerial(portName, baudRate)
		},
	}}
}

func openSerial(portName string, baudRate int) (serial.Port, error) {
	if portName == "" {
		return nil, errors.New("serial port is empty")
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	// Reads return (0, nil) on timeout so ctx is checked between them.
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return port, nil
}
