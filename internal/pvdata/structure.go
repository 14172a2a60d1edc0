package pvdata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFieldMissing = errors.New("field missing")
	ErrFieldType    = errors.New("field has incompatible type")
)

// Structure is a read-only view over a structured PV payload.
// Paths are dot separated, e.g. "value.index" or "display.format".
type Structure interface {
	Has(path string) bool
	Lookup(path string) (any, bool)
}

// Map is the generic Structure implementation produced by the wire codec.
type Map map[string]any

func (m Map) Has(path string) bool {
	_, ok := m.Lookup(path)
	return ok
}

func (m Map) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = map[string]any(m)
	for _, part := range strings.Split(path, ".") {
		next, ok := child(cur, part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(node any, key string) (any, bool) {
	switch typed := node.(type) {
	case Map:
		v, ok := typed[key]
		return v, ok
	case map[string]any:
		v, ok := typed[key]
		return v, ok
	case map[any]any:
		v, ok := typed[key]
		return v, ok
	default:
		return nil, false
	}
}

func lookup(s Structure, path string) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrFieldMissing)
	}
	v, ok := s.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrFieldMissing)
	}
	return v, nil
}

func typeError(path string, v any) error {
	return fmt.Errorf("%s (%T): %w", path, v, ErrFieldType)
}

// Scalar builds a minimal payload carrying v as its value field.
func Scalar(v any) Map {
	return Map{"value": v}
}

// EnumOf builds an enumerated payload with the given selection.
func EnumOf(index int, choices ...string) Map {
	return Map{"value": map[string]any{
		"index":   index,
		"choices": append([]string(nil), choices...),
	}}
}

// WithDisplayFormat attaches display.format metadata and returns m.
func (m Map) WithDisplayFormat(format string) Map {
	m["display"] = map[string]any{"format": format}
	return m
}
