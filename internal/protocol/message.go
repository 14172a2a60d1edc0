package protocol

import (
	"github.com/pvmon/pvmon/internal/pvdata"
)

// Version is the protocol version announced in hello. Peers must share the
// major version.
const Version = "v1.2.0"

type MessageType string

const (
	TypeHello       MessageType = "hello"
	TypeWelcome     MessageType = "welcome"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePut         MessageType = "put"
	TypeUpdate      MessageType = "update"
	TypeConn        MessageType = "conn"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
)

// Message is the single envelope exchanged in both directions. Which fields
// are set depends on Type.
type Message struct {
	Type      MessageType    `msgpack:"t"`
	ID        uint32         `msgpack:"id,omitempty"`
	Name      string         `msgpack:"n,omitempty"`
	Field     string         `msgpack:"f,omitempty"`
	Value     any            `msgpack:"v,omitempty"`
	Data      map[string]any `msgpack:"d,omitempty"`
	Connected bool           `msgpack:"c,omitempty"`
	ClientID  string         `msgpack:"cid,omitempty"`
	Version   string         `msgpack:"ver,omitempty"`
	Error     string         `msgpack:"err,omitempty"`
}

// Structure exposes the update payload.
func (m Message) Structure() pvdata.Map {
	if m.Data == nil {
		return pvdata.Map{}
	}
	return pvdata.Map(m.Data)
}
