package state

import (
	"fmt"
	"math"
)

// TagReader reads current tag values. The tag registry implements it.
type TagReader interface {
	Get(name string) (any, error)
}

// Comparator evaluates a custom condition against the current tag value.
type Comparator func(value any, c Condition) (bool, error)

// equalityEpsilon absorbs float noise when equals compares numbers.
const equalityEpsilon = 1e-9

// evaluate returns the ids of conditions that do not hold. A condition
// whose tag cannot be read, or has no value yet, fails.
func evaluate(conds []Condition, tags TagReader, comparators map[string]Comparator) []string {
	failed := []string{}
	for _, c := range conds {
		ok, err := check(c, tags, comparators)
		if err != nil || !ok {
			failed = append(failed, c.ID)
		}
	}
	return failed
}

func check(c Condition, tags TagReader, comparators map[string]Comparator) (bool, error) {
	v, err := tags.Get(c.Tag)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, fmt.Errorf("tag %s has no value", c.Tag)
	}

	switch c.Op {
	case OpEquals:
		return equal(v, c.Value), nil
	case OpNotEquals:
		return !equal(v, c.Value), nil
	case OpGreaterThan, OpLessThan:
		got, ok := number(v)
		if !ok {
			return false, fmt.Errorf("tag %s is not numeric", c.Tag)
		}
		want, _ := number(c.Value)
		if c.Op == OpGreaterThan {
			return got > want, nil
		}
		return got < want, nil
	case OpInRange:
		got, ok := number(v)
		if !ok {
			return false, fmt.Errorf("tag %s is not numeric", c.Tag)
		}
		return got >= *c.Min && got <= *c.Max, nil
	case OpCustom:
		cmp, ok := comparators[c.Comparator]
		if !ok {
			return false, fmt.Errorf("comparator %q is not registered", c.Comparator)
		}
		return cmp(v, c)
	}
	return false, fmt.Errorf("unknown op %q", c.Op)
}

// equal compares a tag value with a condition operand. Numbers compare by
// value regardless of Go type, so int64(1) equals the YAML operand 1.
func equal(a, b any) bool {
	an, aok := number(a)
	bn, bok := number(b)
	if aok && bok {
		return math.Abs(an-bn) <= equalityEpsilon
	}
	if aok != bok {
		return false
	}
	return a == b
}

func number(v any) (float64, bool) {
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
