package state

import (
	"fmt"
	"math"
)

// Names of the comparators returned by StandardComparators.
const (
	ComparatorOneOf    = "one_of"
	ComparatorNotOneOf = "not_one_of"
	ComparatorAbsBelow = "abs_below"
)

// StandardComparators returns the custom comparators the spraycell binary
// registers. Callers may add their own to the returned map.
//
//   - one_of: the tag equals any element of the list in value.
//   - not_one_of: the tag equals no element of the list in value.
//   - abs_below: the magnitude of a numeric tag is below value.
func StandardComparators() map[string]Comparator {
	return map[string]Comparator{
		ComparatorOneOf:    oneOf,
		ComparatorNotOneOf: notOneOf,
		ComparatorAbsBelow: absBelow,
	}
}

func oneOf(v any, c Condition) (bool, error) {
	list, ok := c.Value.([]any)
	if !ok {
		return false, fmt.Errorf("%s: value must be a list", ComparatorOneOf)
	}
	for _, want := range list {
		if equal(v, want) {
			return true, nil
		}
	}
	return false, nil
}

func notOneOf(v any, c Condition) (bool, error) {
	in, err := oneOf(v, c)
	if err != nil {
		return false, fmt.Errorf("%s: value must be a list", ComparatorNotOneOf)
	}
	return !in, nil
}

func absBelow(v any, c Condition) (bool, error) {
	got, ok := number(v)
	if !ok {
		return false, fmt.Errorf("tag %s is not numeric", c.Tag)
	}
	limit, ok := number(c.Value)
	if !ok {
		return false, fmt.Errorf("%s: value must be numeric", ComparatorAbsBelow)
	}
	return math.Abs(got) < limit, nil
}
