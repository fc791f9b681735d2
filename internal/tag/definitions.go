package tag

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition declares one tag.
//
// A tag with an Adapter is a hardware tag read from Address by the poll
// cycle. A tag without one is virtual.
type Definition struct {
	Name        string   `yaml:"-"`
	Type        Type     `yaml:"type"`
	Adapter     string   `yaml:"adapter"`
	Address     string   `yaml:"address"`
	Access      Access   `yaml:"access"`
	Tolerance   *float64 `yaml:"tolerance"`
	Default     any      `yaml:"default"`
	Unit        string   `yaml:"unit"`
	Description string   `yaml:"description"`
}

// Source returns where the tag's value comes from.
func (d Definition) Source() Source {
	if d.Adapter != "" {
		return SourceHardware
	}
	return SourceVirtual
}

// LoadDefinitions reads tag definitions from a YAML file.
//
// Tags may be nested in groups; a mapping with a "type" key is a tag and
// any other mapping is a group. Names are the dot-joined path:
//
//	tag_groups:
//	  spray:
//	    pressure:
//	      type: float
//	      adapter: plc
//	      address: AI_Pressure
//	  hardware:
//	    connected:
//	      type: bool
//
// declares "spray.pressure" and "hardware.connected". The top-level
// "tag_groups" key is optional.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tag definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses tag definitions from YAML. See LoadDefinitions.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing tag definitions: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidDefinition)
	}
	if groups := mappingValue(root, "tag_groups"); groups != nil {
		root = groups
	}

	var defs []Definition
	if err := collect(root, "", &defs); err != nil {
		return nil, err
	}
	if err := ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// collect walks a group mapping in document order.
func collect(group *yaml.Node, prefix string, out *[]Definition) error {
	if group.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: group %q must be a mapping (line %d)", ErrInvalidDefinition, strings.TrimSuffix(prefix, "."), group.Line)
	}
	for i := 0; i+1 < len(group.Content); i += 2 {
		key, val := group.Content[i], group.Content[i+1]
		name := prefix + key.Value

		if val.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: %q must be a tag or a group (line %d)", ErrInvalidDefinition, name, val.Line)
		}

		if mappingValue(val, "type") == nil {
			if err := collect(val, name+".", out); err != nil {
				return err
			}
			continue
		}

		var def Definition
		if err := val.Decode(&def); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidDefinition, name, err)
		}
		def.Name = name
		*out = append(*out, def)
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ValidateDefinitions checks a definition set and fills in defaults.
//
// Virtual tags default to writable; hardware tags default to, and must be,
// read-only. Defaults are coerced to the declared type in place.
func ValidateDefinitions(defs []Definition) error {
	var errs []error
	seen := make(map[string]bool, len(defs))

	for i := range defs {
		d := &defs[i]
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("%q: "+format, append([]any{d.Name}, args...)...))
		}

		if d.Name == "" {
			errs = append(errs, errors.New("tag with empty name"))
			continue
		}
		if strings.ContainsAny(d.Name, "*") || strings.Contains(d.Name, "..") ||
			strings.HasPrefix(d.Name, ".") || strings.HasSuffix(d.Name, ".") {
			fail("name must be dot-separated segments without wildcards")
		}
		if seen[d.Name] {
			fail("duplicate tag name")
		}
		seen[d.Name] = true

		if !d.Type.Valid() {
			fail("unknown type %q", d.Type)
		}

		switch d.Source() {
		case SourceHardware:
			if d.Address == "" {
				fail("hardware tag requires an address")
			}
			if d.Access == "" {
				d.Access = AccessReadOnly
			}
			if d.Access != AccessReadOnly {
				fail("hardware tags are read-only")
			}
		case SourceVirtual:
			if d.Access == "" {
				d.Access = AccessWritable
			}
			if d.Access != AccessReadOnly && d.Access != AccessWritable {
				fail("unknown access %q", d.Access)
			}
		}

		if d.Tolerance != nil && (*d.Tolerance < 0 || d.Type != TypeFloat) {
			fail("tolerance must be non-negative and only applies to float tags")
		}

		if d.Default != nil && d.Type.Valid() {
			v, err := coerce(d.Type, d.Default)
			if err != nil {
				fail("default: %v", err)
			} else {
				d.Default = v
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(errs...))
	}
	return nil
}
