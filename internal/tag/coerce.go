package tag

import (
	"fmt"
	"math"
)

// coerce converts v to the canonical Go representation of t.
//
//   - bool and string accept only their own kind
//   - float accepts any numeric kind (NaN and Inf are rejected)
//   - int accepts integer kinds and integral floats within int64 range
func coerce(t Type, v any) (any, error) {
	switch t {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeFloat:
		if f, ok := toFloat(v); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: %v is not a finite number", ErrType, v)
			}
			return f, nil
		}
	case TypeInt:
		if i, ok := toInt(v); ok {
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T(%v) as %s", ErrType, v, v, t)
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
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
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
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

// floatToInt accepts only integral values inside the int64 range.
func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// equalValues reports whether a and b are the same value of type t.
// Floats compare within tolerance. A nil a (no value yet) never equals b.
func equalValues(t Type, a, b any, tolerance float64) bool {
	if a == nil || b == nil {
		return false
	}
	if t == TypeFloat {
		af, aok := a.(float64)
		bf, bok := b.(float64)
		return aok && bok && math.Abs(af-bf) <= tolerance
	}
	return a == b
}
