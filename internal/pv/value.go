package pv

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindUnset Kind = iota
	KindDouble
	KindInt
	KindString
	KindEnum
	KindDoubleSeq
	KindIntSeq
	KindStringSeq
)

var kindNames = map[Kind]string{
	KindUnset:     "unset",
	KindDouble:    "double",
	KindInt:       "int",
	KindString:    "string",
	KindEnum:      "enum",
	KindDoubleSeq: "double[]",
	KindIntSeq:    "int[]",
	KindStringSeq: "string[]",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind accepts the names printed by Kind.String plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "double", "float", "float64":
		return KindDouble, nil
	case "int", "integer", "long":
		return KindInt, nil
	case "", "string", "str":
		return KindString, nil
	case "enum":
		return KindEnum, nil
	case "double[]", "doubles", "float[]":
		return KindDoubleSeq, nil
	case "int[]", "ints":
		return KindIntSeq, nil
	case "string[]", "strings":
		return KindStringSeq, nil
	default:
		return KindUnset, fmt.Errorf("unknown value type %q", s)
	}
}

// Enum is an enumerated value: the selected index, its label and every choice.
type Enum struct {
	Index   int
	Choice  string
	Choices []string
}

// Value holds exactly one of the supported shapes, selected by its Kind.
type Value struct {
	kind    Kind
	double  float64
	integer int
	str     string
	enum    Enum
	doubles []float64
	ints    []int
	strs    []string
}

func DoubleValue(v float64) Value { return Value{kind: KindDouble, double: v} }
func IntValue(v int) Value        { return Value{kind: KindInt, integer: v} }
func StringValue(v string) Value  { return Value{kind: KindString, str: v} }
func EnumValue(v Enum) Value {
	return Value{kind: KindEnum, enum: Enum{Index: v.Index, Choice: v.Choice, Choices: cloneSlice(v.Choices)}}
}
func DoublesValue(v []float64) Value { return Value{kind: KindDoubleSeq, doubles: cloneSlice(v)} }
func IntsValue(v []int) Value        { return Value{kind: KindIntSeq, ints: cloneSlice(v)} }
func StringsValue(v []string) Value  { return Value{kind: KindStringSeq, strs: cloneSlice(v)} }

func (v Value) Kind() Kind           { return v.kind }
func (v Value) AsDouble() float64    { return v.double }
func (v Value) AsInt() int           { return v.integer }
func (v Value) AsString() string     { return v.str }
func (v Value) AsEnum() Enum         { return v.enum }
func (v Value) AsDoubles() []float64 { return v.doubles }
func (v Value) AsInts() []int        { return v.ints }
func (v Value) AsStrings() []string  { return v.strs }

// Clone returns a deep copy that shares no storage with v.
func (v Value) Clone() Value {
	out := v
	out.enum.Choices = cloneSlice(v.enum.Choices)
	out.doubles = cloneSlice(v.doubles)
	out.ints = cloneSlice(v.ints)
	out.strs = cloneSlice(v.strs)
	return out
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindDouble:
		return strconv.FormatFloat(v.double, 'g', -1, 64)
	case KindInt:
		return strconv.Itoa(v.integer)
	case KindString:
		return v.str
	case KindEnum:
		return v.enum.Choice
	case KindDoubleSeq:
		return joinSlice(v.doubles, func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) })
	case KindIntSeq:
		return joinSlice(v.ints, strconv.Itoa)
	case KindStringSeq:
		return joinSlice(v.strs, strconv.Quote)
	default:
		return "<unset>"
	}
}

// assign copies src into v, reusing v's sequence storage when lengths match.
func (v *Value) assign(src *Value) {
	v.kind = src.kind
	switch src.kind {
	case KindDouble:
		v.double = src.double
	case KindInt:
		v.integer = src.integer
	case KindString:
		v.str = src.str
	case KindEnum:
		copyEnum(&v.enum, &src.enum)
	case KindDoubleSeq:
		v.doubles = copyInto(v.doubles, src.doubles)
	case KindIntSeq:
		v.ints = copyInto(v.ints, src.ints)
	case KindStringSeq:
		v.strs = copyInto(v.strs, src.strs)
	}
}

func copyEnum(dst, src *Enum) {
	dst.Index = src.Index
	dst.Choice = src.Choice
	dst.Choices = copyInto(dst.Choices, src.Choices)
}

// copyInto reallocates dst only when its length differs from src.
func copyInto[E any](dst, src []E) []E {
	if len(dst) != len(src) {
		dst = make([]E, len(src))
	}
	copy(dst, src)
	return dst
}

func cloneSlice[E any](in []E) []E {
	if in == nil {
		return nil
	}
	out := make([]E, len(in))
	copy(out, in)
	return out
}

func joinSlice[E any](in []E, format func(E) string) string {
	parts := make([]string, len(in))
	for i, e := range in {
		parts[i] = format(e)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
