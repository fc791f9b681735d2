package state

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Op is a guard condition operator.
type Op string

// Condition operators.
const (
	OpEquals      Op = "equals"
	OpNotEquals   Op = "not_equals"
	OpGreaterThan Op = "greater_than"
	OpLessThan    Op = "less_than"
	OpInRange     Op = "in_range"
	OpCustom      Op = "custom"
)

// Condition is a predicate over one tag that must hold to enter a state.
type Condition struct {
	// ID identifies the condition in FailedConditions. Defaults to Tag.
	ID  string `yaml:"id" json:"id"`
	Tag string `yaml:"tag" json:"tag"`
	Op  Op     `yaml:"op" json:"op"`

	// Value is the operand for equals, not_equals, greater_than and less_than.
	Value any `yaml:"value" json:"value,omitempty"`

	// Min and Max bound in_range (inclusive).
	Min *float64 `yaml:"min" json:"min,omitempty"`
	Max *float64 `yaml:"max" json:"max,omitempty"`

	// Comparator names a registered custom comparator for op custom.
	Comparator string `yaml:"comparator" json:"comparator,omitempty"`
}

// Definition describes one state.
type Definition struct {
	Description string      `yaml:"description" json:"description,omitempty"`
	NextStates  []string    `yaml:"next_states" json:"next_states"`
	Conditions  []Condition `yaml:"conditions" json:"conditions,omitempty"`

	// AutoFrom lists states from which the coordinator enters this state
	// by itself as soon as its conditions hold.
	AutoFrom []string `yaml:"auto_from" json:"auto_from,omitempty"`
}

// Table is a validated transition table. Treat it as immutable once
// handed to a Coordinator.
type Table struct {
	InitialState string                `yaml:"initial_state" json:"initial_state"`
	States       map[string]Definition `yaml:"states" json:"states"`
}

// LoadTable reads a transition table from a YAML file. Structural
// validation runs here; custom comparators are checked by New and Reload.
//
//	initial_state: INITIALIZING
//	states:
//	  INITIALIZING:
//	    next_states: [READY, ERROR]
//	  READY:
//	    next_states: [RUNNING, ERROR]
//	    auto_from: [INITIALIZING]
//	    conditions:
//	      - tag: hardware.connected
//	        op: equals
//	        value: true
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transition table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses a transition table from YAML. See LoadTable.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing transition table: %w", err)
	}
	if err := t.Validate(nil); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the table and fills in condition ids. comparators is
// the set of registered custom comparator names; nil skips that check.
func (t *Table) Validate(comparators map[string]Comparator) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(t.States) == 0 {
		return fmt.Errorf("%w: no states defined", ErrInvalidTable)
	}
	if t.InitialState == "" {
		add("initial_state is required")
	} else if _, ok := t.States[t.InitialState]; !ok {
		add("initial_state %q is not a declared state", t.InitialState)
	}

	for _, name := range t.StateNames() {
		def := t.States[name]
		if name == "" {
			add("state with empty name")
			continue
		}
		for _, next := range def.NextStates {
			if _, ok := t.States[next]; !ok {
				add("%s: next state %q is not declared", name, next)
			}
		}
		for _, from := range def.AutoFrom {
			if _, ok := t.States[from]; !ok {
				add("%s: auto_from state %q is not declared", name, from)
			}
		}

		ids := make(map[string]bool, len(def.Conditions))
		for i := range def.Conditions {
			c := &def.Conditions[i]
			if c.ID == "" {
				c.ID = c.Tag
			}
			if err := c.validate(comparators); err != nil {
				add("%s: condition %d (%s): %v", name, i, c.ID, err)
				continue
			}
			if ids[c.ID] {
				add("%s: duplicate condition id %q", name, c.ID)
			}
			ids[c.ID] = true
		}
		t.States[name] = def
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTable, errors.Join(errs...))
	}
	return nil
}

func (c Condition) validate(comparators map[string]Comparator) error {
	if c.Tag == "" {
		return errors.New("tag is required")
	}
	switch c.Op {
	case OpEquals, OpNotEquals:
		if c.Value == nil {
			return fmt.Errorf("%s requires a value", c.Op)
		}
	case OpGreaterThan, OpLessThan:
		if _, ok := number(c.Value); !ok {
			return fmt.Errorf("%s requires a numeric value", c.Op)
		}
	case OpInRange:
		if c.Min == nil || c.Max == nil {
			return errors.New("in_range requires min and max")
		}
		if *c.Min > *c.Max {
			return errors.New("in_range min exceeds max")
		}
	case OpCustom:
		if c.Comparator == "" {
			return errors.New("custom requires a comparator")
		}
		if comparators != nil {
			if _, ok := comparators[c.Comparator]; !ok {
				return fmt.Errorf("comparator %q is not registered", c.Comparator)
			}
		}
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

// StateNames returns every declared state, sorted.
func (t *Table) StateNames() []string {
	names := make([]string, 0, len(t.States))
	for name := range t.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allows reports whether the table has an edge from -> to.
func (t *Table) Allows(from, to string) bool {
	def, ok := t.States[from]
	return ok && slices.Contains(def.NextStates, to)
}

// autoTargets returns the states that declare from in auto_from, sorted.
func (t *Table) autoTargets(from string) []string {
	var out []string
	for _, name := range t.StateNames() {
		if slices.Contains(t.States[name].AutoFrom, from) {
			out = append(out, name)
		}
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		InitialState: t.InitialState,
		States:       make(map[string]Definition, len(t.States)),
	}
	for name, def := range t.States {
		out.States[name] = Definition{
			Description: def.Description,
			NextStates:  slices.Clone(def.NextStates),
			Conditions:  slices.Clone(def.Conditions),
			AutoFrom:    slices.Clone(def.AutoFrom),
		}
	}
	return out
}
