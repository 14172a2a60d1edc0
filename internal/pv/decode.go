package pv

import (
	"errors"
	"fmt"

	"github.com/pvmon/pvmon/internal/pvdata"
)

const valueField = "value"

// decode reads s into dst as kind. dst is left untouched on error.
func decode(dst *Value, kind Kind, s pvdata.Structure) error {
	switch kind {
	case KindDouble:
		f, err := pvdata.Double(s, valueField)
		if err != nil {
			return err
		}
		dst.double = f
	case KindInt:
		i, err := pvdata.Int(s, valueField)
		if err != nil {
			return err
		}
		dst.integer = i
	case KindString:
		str, err := decodeString(s)
		if err != nil {
			return err
		}
		dst.str = str
	case KindEnum:
		choices, err := pvdata.StringArray(s, valueField+".choices")
		if err != nil {
			return err
		}
		index, err := pvdata.Int(s, valueField+".index")
		if err != nil {
			return err
		}
		if index < 0 || index >= len(choices) {
			return fmt.Errorf("%w: index %d with %d choices", ErrChoiceIndex, index, len(choices))
		}
		dst.enum.Index = index
		dst.enum.Choice = choices[index]
		dst.enum.Choices = copyInto(dst.enum.Choices, choices)
	case KindDoubleSeq:
		vals, err := pvdata.DoubleArray(s, valueField)
		if err != nil {
			return err
		}
		dst.doubles = copyInto(dst.doubles, vals)
	case KindIntSeq:
		vals, err := pvdata.IntArray(s, valueField)
		if err != nil {
			return err
		}
		dst.ints = copyInto(dst.ints, vals)
	case KindStringSeq:
		vals, err := pvdata.StringArray(s, valueField)
		if err != nil {
			return err
		}
		dst.strs = copyInto(dst.strs, vals)
	default:
		return fmt.Errorf("cannot decode into %s", kind)
	}
	dst.kind = kind
	return nil
}

// decodeString prefers a native string and falls back to a fixed-point
// rendering at the payload's display precision.
func decodeString(s pvdata.Structure) (string, error) {
	str, err := pvdata.String(s, valueField)
	if err == nil {
		return str, nil
	}
	if !errors.Is(err, pvdata.ErrFieldType) {
		return "", err
	}
	return pvdata.Format(s, valueField, ResolvePrecision(s))
}
