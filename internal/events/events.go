package events

import "time"

// ConnectionState describes the lifecycle of the link to the PV server.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of the server link.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// ChannelStatus reports a single PV gaining or losing its connection.
type ChannelStatus struct {
	Name      string
	Connected bool
	Timestamp time.Time
}

// Sample is one value observed by the poll loop.
type Sample struct {
	Name      string
	Kind      string
	Text      string
	Timestamp time.Time
}

// Mismatch is published when an update could not be decoded into the
// type a PV was bound with.
type Mismatch struct {
	Name      string
	Kind      string
	Err       string
	Timestamp time.Time
}

// RawFrame carries frame diagnostics for debug views.
type RawFrame struct {
	Hex string
	Len int
}
