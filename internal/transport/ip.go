package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultIPPort is the conventional PV server port.
const DefaultIPPort = 5075

const ipDialTimeout = 6 * time.Second

// IPTransport exchanges frames with a PV server over TCP.
type IPTransport struct {
	frameStream
}

func NewIPTransport(host string, port int) *IPTransport {
	if port <= 0 {
		port = DefaultIPPort
	}
	var addr string
	if host != "" {
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return &IPTransport{frameStream: frameStream{
		name:   "ip",
		target: addr,
		dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			if addr == "" {
				return nil, errors.New("ip host is empty")
			}
			dialer := net.Dialer{Timeout: ipDialTimeout}
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("dial tcp: %w", err)
			}
			return conn, nil
		},
	}}
}
