package pvdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupNestedPaths(t *testing.T) {
	m := Map{
		"value":   map[string]any{"index": int8(1), "choices": []any{"Off", "On"}},
		"display": map[any]any{"format": "%.2F"},
	}

	assert.True(t, m.Has("value.index"))
	assert.True(t, m.Has("display.format"))
	assert.False(t, m.Has("value.missing"))
	assert.False(t, m.Has(""))

	v, ok := m.Lookup("display.format")
	require.True(t, ok)
	assert.Equal(t, "%.2F", v)
}

func TestNumericReaders(t *testing.T) {
	tests := []struct {
		name  string
		value any
		dbl   float64
		i     int
	}{
		{name: "float64", value: 2.5, dbl: 2.5, i: 2},
		{name: "float32", value: float32(1.5), dbl: 1.5, i: 1},
		{name: "int8", value: int8(-3), dbl: -3, i: -3},
		{name: "uint16", value: uint16(7), dbl: 7, i: 7},
		{name: "int64", value: int64(42), dbl: 42, i: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Scalar(tt.value)
			d, err := Double(s, "value")
			require.NoError(t, err)
			assert.InDelta(t, tt.dbl, d, 1e-9)

			i, err := Int(s, "value")
			require.NoError(t, err)
			assert.Equal(t, tt.i, i)
		})
	}
}

func TestReadersReportMissingAndType(t *testing.T) {
	s := Scalar("text")

	_, err := Double(s, "value")
	assert.ErrorIs(t, err, ErrFieldType)

	_, err = Int(s, "nope")
	assert.ErrorIs(t, err, ErrFieldMissing)

	_, err = String(Scalar(1.0), "value")
	assert.ErrorIs(t, err, ErrFieldType)

	_, err = Double(nil, "value")
	assert.ErrorIs(t, err, ErrFieldMissing)
}

func TestArrayReaders(t *testing.T) {
	doubles, err := DoubleArray(Scalar([]any{1.0, int8(2), float32(3)}), "value")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, doubles)

	ints, err := IntArray(Scalar([]int64{4, 5}), "value")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, ints)

	strs, err := StringArray(Scalar([]any{"a", "b"}), "value")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs)

	_, err = StringArray(Scalar([]any{"a", 1}), "value")
	assert.ErrorIs(t, err, ErrFieldType)

	_, err = DoubleArray(Scalar(1.0), "value")
	assert.ErrorIs(t, err, ErrFieldType)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		s    Map
		prec int
		want string
	}{
		{name: "fixed point", s: Scalar(3.14159), prec: 2, want: "3.14"},
		{name: "integer", s: Scalar(int32(12)), prec: 4, want: "12"},
		{name: "string", s: Scalar("ok"), prec: 4, want: "ok"},
		{name: "array", s: Scalar([]any{1.0, 2.5}), prec: 1, want: "[1.0 2.5]"},
		{name: "enum label", s: EnumOf(1, "Off", "On"), prec: 4, want: "On"},
		{name: "bool", s: Scalar(true), prec: 4, want: "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.s, "value", tt.prec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecodeKeepsNumericKinds(t *testing.T) {
	in := EnumOf(2, "Off", "On", "Fault").WithDisplayFormat("%.1F")
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)

	idx, err := Int(out, "value.index")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	choices, err := StringArray(out, "value.choices")
	require.NoError(t, err)
	assert.Equal(t, []string{"Off", "On", "Fault"}, choices)

	_, err = String(out, "value.index")
	assert.ErrorIs(t, err, ErrFieldType)
}
