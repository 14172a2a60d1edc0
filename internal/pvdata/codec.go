package pvdata

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func Encode(m Map) ([]byte, error) {
	b, err := msgpack.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("encode structure: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Map, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode structure: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Map(m), nil
}
