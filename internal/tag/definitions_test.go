package tag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedYAML = `
tag_groups:
  hardware:
    connected:
      type: bool
      description: "All adapters up"
  spray:
    gas:
      pressure:
        type: float
        adapter: plc
        address: AI_GasPressure
        unit: bar
        tolerance: 0.05
    valve_open:
      type: bool
      adapter: plc
      address: DI_Valve
  sequence:
    step:
      type: int
      default: 3
`

func TestParseDefinitions_NestedGroups(t *testing.T) {
	defs, err := ParseDefinitions([]byte(nestedYAML))
	require.NoError(t, err)

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{
		"hardware.connected",
		"spray.gas.pressure",
		"spray.valve_open",
		"sequence.step",
	}, names)

	pressure := defs[1]
	assert.Equal(t, TypeFloat, pressure.Type)
	assert.Equal(t, SourceHardware, pressure.Source())
	assert.Equal(t, AccessReadOnly, pressure.Access, "hardware tags default to read-only")
	assert.Equal(t, "bar", pressure.Unit)
	require.NotNil(t, pressure.Tolerance)
	assert.InDelta(t, 0.05, *pressure.Tolerance, 1e-12)

	assert.Equal(t, SourceVirtual, defs[0].Source())
	assert.Equal(t, AccessWritable, defs[0].Access, "virtual tags default to writable")
	assert.Equal(t, int64(3), defs[3].Default, "defaults are coerced to the declared type")
}

func TestParseDefinitions_WithoutTagGroupsKey(t *testing.T) {
	defs, err := ParseDefinitions([]byte("a:\n  b:\n    type: string\n"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a.b", defs[0].Name)
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown type", "x:\n  type: complex\n"},
		{"writable hardware", "x:\n  type: bool\n  adapter: plc\n  address: A\n  access: writable\n"},
		{"hardware without address", "x:\n  type: bool\n  adapter: plc\n"},
		{"bad default", "x:\n  type: int\n  default: 1.5\n"},
		{"tolerance on int", "x:\n  type: int\n  tolerance: 0.1\n"},
		{"scalar leaf", "x: 5\n"},
		{"not a mapping", "- a\n- b\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestValidateDefinitions_Duplicate(t *testing.T) {
	err := ValidateDefinitions([]Definition{
		{Name: "a", Type: TypeBool},
		{Name: "a", Type: TypeBool},
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nestedYAML), 0600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, defs, 4)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
