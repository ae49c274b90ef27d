// Package marshal converts text field values from the native boundary into the
// typed field map the CMF log_metric verb expects.
package marshal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldSet maps field names to typed values (int64, string, or, with InferRich,
// float64, bool and decoded JSON).
type FieldSet map[string]any

var (
	// ErrLengthMismatch is returned when names and values differ in length.
	ErrLengthMismatch = errors.New("marshal: names and values differ in length")
	// ErrEmptyName is returned for a field with an empty name.
	ErrEmptyName = errors.New("marshal: empty field name")
	// ErrConversion is returned when a value classified as integer does not fit int64.
	ErrConversion = errors.New("marshal: value cannot be converted")
)

// Inference selects how text values are typed.
type Inference int

const (
	// InferLexical types a value as integer when it is made only of decimal
	// digits with an optional leading '-'. Everything else stays text.
	InferLexical Inference = iota
	// InferRich additionally recognizes floats, booleans and JSON arrays/objects.
	InferRich
)

// ParseInference maps a config value ("lexical", "rich") to an Inference.
// Empty selects InferLexical.
func ParseInference(s string) (Inference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lexical":
		return InferLexical, nil
	case "rich":
		return InferRich, nil
	}
	return InferLexical, fmt.Errorf("marshal: unknown inference mode %q", s)
}

func (i Inference) String() string {
	if i == InferRich {
		return "rich"
	}
	return "lexical"
}

// Marshaller builds field sets with a fixed inference rule. The zero value uses InferLexical.
type Marshaller struct {
	Inference Inference
}

// BuildFieldSet pairs names[i] with values[i] and types each value.
// Duplicate names resolve last-write-wins. Any conversion failure aborts the
// whole set so that a partially typed record is never forwarded.
func (m Marshaller) BuildFieldSet(names, values []string) (FieldSet, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("%w: %d names, %d values", ErrLengthMismatch, len(names), len(values))
	}
	fs := make(FieldSet, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w at index %d", ErrEmptyName, i)
		}
		v, err := m.Classify(values[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fs[name] = v
	}
	return fs, nil
}

// Classify types a single text value.
func (m Marshaller) Classify(s string) (any, error) {
	if IsInteger(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrConversion, s)
		}
		return n, nil
	}
	if m.Inference != InferRich {
		return s, nil
	}
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if isFloat(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
	}
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		if decoded, err := decodeJSON([]byte(t)); err == nil {
			return decoded, nil
		}
	}
	return s, nil
}

// IsInteger reports whether s is a decimal integer literal: an optional
// leading '-' followed by one or more digits.
func IsInteger(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isFloat accepts plain decimal/exponent literals only, so "NaN", "Inf" and
// hex floats stay text.
func isFloat(s string) bool {
	if s == "" {
		return false
	}
	digits := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return digits
}

// decodeJSON decodes a JSON document keeping number literals exact: integer
// literals become int64, the rest float64.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("marshal: trailing data after JSON value")
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if IsInteger(t.String()) {
			if n, err := t.Int64(); err == nil {
				return n
			}
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	}
	return v
}
