package pv

import (
	"errors"
	"fmt"
)

// Shape lists the Go types a consumer can bind to a handle.
type Shape interface {
	float64 | int | string | Enum | []float64 | []int | []string
}

// KindOf returns the Kind that corresponds to T.
func KindOf[T Shape]() Kind {
	var zero T
	switch any(zero).(type) {
	case float64:
		return KindDouble
	case int:
		return KindInt
	case string:
		return KindString
	case Enum:
		return KindEnum
	case []float64:
		return KindDoubleSeq
	case []int:
		return KindIntSeq
	case []string:
		return KindStringSeq
	default:
		return KindUnset
	}
}

// Bind registers target as a consumer of h. The first binding fixes the
// handle's kind; a later binding of another kind fails with ErrTypeMismatch.
// target must stay valid for the lifetime of the handle and is only written
// from Sync.
func Bind[T Shape](h *Handle, target *T) error {
	if target == nil {
		return errors.New("bind: nil target")
	}
	if err := h.fix(KindOf[T](), func(v *Value) { store(target, v) }); err != nil {
		return fmt.Errorf("bind %s: %w", h.name, err)
	}
	return nil
}

// BindName looks name up in r and binds target to it.
func BindName[T Shape](r *Registry, name string, target *T) (*Handle, error) {
	h, err := r.GetOrCreate(name)
	if err != nil {
		return nil, err
	}
	if err := Bind(h, target); err != nil {
		return nil, err
	}
	return h, nil
}

func store[T Shape](target *T, v *Value) {
	switch t := any(target).(type) {
	case *float64:
		*t = v.double
	case *int:
		*t = v.integer
	case *string:
		*t = v.str
	case *Enum:
		copyEnum(t, &v.enum)
	case *[]float64:
		*t = copyInto(*t, v.doubles)
	case *[]int:
		*t = copyInto(*t, v.ints)
	case *[]string:
		*t = copyInto(*t, v.strs)
	}
}
