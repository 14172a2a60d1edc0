package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/mod/semver"
)

var ErrIncompatibleVersion = errors.New("incompatible protocol version")

// Codec translates between transport frames and protocol messages.
type Codec interface {
	EncodeHello(clientID string) ([]byte, error)
	EncodeSubscribe(id uint32, name string) ([]byte, error)
	EncodeUnsubscribe(id uint32, name string) ([]byte, error)
	EncodePut(id uint32, name, field string, value any) ([]byte, error)
	EncodePing() ([]byte, error)
	Encode(msg Message) ([]byte, error)
	Decode(payload []byte) (Message, error)
}

type MsgpackCodec struct{}

func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{}
}

func (c *MsgpackCodec) EncodeHello(clientID string) ([]byte, error) {
	return c.Encode(Message{Type: TypeHello, ClientID: clientID, Version: Version})
}

func (c *MsgpackCodec) EncodeSubscribe(id uint32, name string) ([]byte, error) {
	return c.Encode(Message{Type: TypeSubscribe, ID: id, Name: name})
}

func (c *MsgpackCodec) EncodeUnsubscribe(id uint32, name string) ([]byte, error) {
	return c.Encode(Message{Type: TypeUnsubscribe, ID: id, Name: name})
}

func (c *MsgpackCodec) EncodePut(id uint32, name, field string, value any) ([]byte, error) {
	if field == "" {
		field = "value"
	}
	return c.Encode(Message{Type: TypePut, ID: id, Name: name, Field: field, Value: value})
}

func (c *MsgpackCodec) EncodePing() ([]byte, error) {
	return c.Encode(Message{Type: TypePing})
}

func (c *MsgpackCodec) Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is empty")
	}
	b, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b, nil
}

func (c *MsgpackCodec) Decode(payload []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return msg, nil
}

// CheckVersion accepts a peer version with the same major as Version.
// A missing "v" prefix is tolerated.
func CheckVersion(peer string) error {
	if peer != "" && peer[0] != 'v' {
		peer = "v" + peer
	}
	if !semver.IsValid(peer) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, peer)
	}
	if semver.Major(peer) != semver.Major(Version) {
		return fmt.Errorf("%w: peer %s, local %s", ErrIncompatibleVersion, peer, Version)
	}
	return nil
}
