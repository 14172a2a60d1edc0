package pv

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseText converts user input into the field and value to write for a
// handle of the given kind. choices is consulted for enum labels.
func ParseText(kind Kind, text string, choices []string) (string, any, error) {
	text = strings.TrimSpace(text)
	switch kind {
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return "", nil, fmt.Errorf("parse %q as double: %w", text, err)
		}
		return valueField, f, nil
	case KindInt:
		i, err := strconv.Atoi(text)
		if err != nil {
			return "", nil, fmt.Errorf("parse %q as int: %w", text, err)
		}
		return valueField, i, nil
	case KindString:
		return valueField, text, nil
	case KindEnum:
		if i, err := strconv.Atoi(text); err == nil {
			if len(choices) > 0 && (i < 0 || i >= len(choices)) {
				return "", nil, fmt.Errorf("%w: index %d with %d choices", ErrChoiceIndex, i, len(choices))
			}
			return valueField + ".index", i, nil
		}
		for i, choice := range choices {
			if choice == text {
				return valueField + ".index", i, nil
			}
		}
		return "", nil, fmt.Errorf("%w: %q is not a known choice", ErrChoiceIndex, text)
	case KindDoubleSeq:
		vals, err := parseList(text, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
		return valueField, vals, err
	case KindIntSeq:
		vals, err := parseList(text, strconv.Atoi)
		return valueField, vals, err
	case KindStringSeq:
		vals, err := parseList(text, func(s string) (string, error) { return s, nil })
		return valueField, vals, err
	default:
		return valueField, guess(text), nil
	}
}

// guess picks the narrowest type text parses as.
func guess(text string) any {
	if i, err := strconv.Atoi(text); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}

func parseList[E any](text string, parse func(string) (E, error)) ([]E, error) {
	text = strings.TrimSuffix(strings.TrimPrefix(text, "["), "]")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]E, 0, len(fields))
	for _, field := range fields {
		v, err := parse(field)
		if err != nil {
			return nil, fmt.Errorf("parse list element %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}
