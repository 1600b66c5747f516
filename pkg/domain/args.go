package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

// Args is the argument bag of a command.
// Values are typed on read: use the accessors rather than asserting directly,
// since values that went through the journal come back as json.Number.
type Args map[string]any

// Get returns the raw value stored under key.
func (a Args) Get(key string) (any, bool) {
	v, ok := a[key]
	return v, ok
}

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String reads key as a string.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if s, isString := v.(string); ok && isString {
		return s, nil
	}
	return "", &ArgumentTypeError{Key: key, Want: "string", Got: v}
}

// Bool reads key as a boolean.
func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if b, isBool := v.(bool); ok && isBool {
		return b, nil
	}
	return false, &ArgumentTypeError{Key: key, Want: "bool", Got: v}
}

// Int64 reads key as an integer. Floats are accepted only when they hold an integral value.
func (a Args) Int64(key string) (int64, error) {
	v := a[key]
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return 0, &ArgumentTypeError{Key: key, Want: "integer", Got: v}
}

// Int reads key as a platform int.
func (a Args) Int(key string) (int, error) {
	n, err := a.Int64(key)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt || n > math.MaxInt {
		return 0, &ArgumentTypeError{Key: key, Want: "int", Got: a[key]}
	}
	return int(n), nil
}

// Float64 reads key as a floating point number.
func (a Args) Float64(key string) (float64, error) {
	v := a[key]
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	default:
		if i, ok := toInt64(v); ok {
			return float64(i), nil
		}
	}
	return 0, &ArgumentTypeError{Key: key, Want: "float", Got: v}
}

// Decode copies the bag into a struct using mapstructure tags.
func (a Args) Decode(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return fmt.Errorf("create args decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(a)); err != nil {
		return fmt.Errorf("%w: %v", ErrArgumentType, err)
	}
	return nil
}

// Clone returns a shallow copy of the bag.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
	}
	return 0, false
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
