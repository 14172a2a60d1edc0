package pvdata

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

func Double(s Structure, path string) (float64, error) {
	v, err := lookup(s, path)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, typeError(path, v)
	}
	return f, nil
}

// Int reads a numeric field as int. Floating point values are truncated.
func Int(s Structure, path string) (int, error) {
	v, err := lookup(s, path)
	if err != nil {
		return 0, err
	}
	i, ok := toInt(v)
	if !ok {
		return 0, typeError(path, v)
	}
	return i, nil
}

// String reads a field that is natively a string. Numbers are not converted;
// use Format for a text rendering of arbitrary fields.
func String(s Structure, path string) (string, error) {
	v, err := lookup(s, path)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", typeError(path, v)
	}
	return str, nil
}

func DoubleArray(s Structure, path string) ([]float64, error) {
	return readArray(s, path, toFloat)
}

func IntArray(s Structure, path string) ([]int, error) {
	return readArray(s, path, toInt)
}

func StringArray(s Structure, path string) ([]string, error) {
	return readArray(s, path, func(v any) (string, bool) {
		str, ok := v.(string)
		return str, ok
	})
}

func readArray[E any](s Structure, path string, conv func(any) (E, bool)) ([]E, error) {
	v, err := lookup(s, path)
	if err != nil {
		return nil, err
	}
	items, ok := elements(v)
	if !ok {
		return nil, typeError(path, v)
	}
	out := make([]E, len(items))
	for i, item := range items {
		e, ok := conv(item)
		if !ok {
			return nil, typeError(path+"["+strconv.Itoa(i)+"]", item)
		}
		out[i] = e
	}
	return out, nil
}

// elements flattens the slice types the codec and callers produce.
func elements(v any) ([]any, bool) {
	switch typed := v.(type) {
	case []any:
		return typed, true
	case []string:
		return boxed(typed), true
	case []float64:
		return boxed(typed), true
	case []float32:
		return boxed(typed), true
	case []int:
		return boxed(typed), true
	case []int64:
		return boxed(typed), true
	case []int32:
		return boxed(typed), true
	case []int16:
		return boxed(typed), true
	case []uint64:
		return boxed(typed), true
	case []uint32:
		return boxed(typed), true
	case []uint16:
		return boxed(typed), true
	default:
		return nil, false
	}
}

func boxed[E any](in []E) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// Format renders any field as text. Floating point numbers use fixed-point
// notation with the given number of fractional digits; enumerated values
// render as their selected label.
func Format(s Structure, path string, precision int) (string, error) {
	v, err := lookup(s, path)
	if err != nil {
		return "", err
	}
	return formatAny(v, precision), nil
}

func formatAny(v any, precision int) string {
	if precision < 0 {
		precision = 0
	}
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return strconv.FormatFloat(n, 'f', precision, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', precision, 32)
	}
	if i, ok := toInt(v); ok {
		return strconv.Itoa(i)
	}
	if items, ok := elements(v); ok {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = formatAny(item, precision)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	if sub, ok := asMap(v); ok {
		if label, ok := enumLabel(sub); ok {
			return label
		}
		keys := make([]string, 0, len(sub))
		for k := range sub {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + formatAny(sub[k], precision)
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	return ""
}

func asMap(v any) (Map, bool) {
	switch typed := v.(type) {
	case Map:
		return typed, true
	case map[string]any:
		return Map(typed), true
	case map[any]any:
		out := make(Map, len(typed))
		for k, item := range typed {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func enumLabel(m Map) (string, bool) {
	idx, err := Int(m, "index")
	if err != nil {
		return "", false
	}
	choices, err := StringArray(m, "choices")
	if err != nil || idx < 0 || idx >= len(choices) {
		return "", false
	}
	return choices[idx], true
}
