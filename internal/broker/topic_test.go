package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"state.changed", "state.changed", true},
		{"state.changed", "state.rejected", false},
		{"State.changed", "state.changed", false},
		{"tag.*.changed", "tag.pressure.changed", true},
		{"tag.*.changed", "tag.spray.pressure.changed", false},
		{"tag.*", "tag", false},
		{"tag.**", "tag", true},
		{"tag.**", "tag.pressure", true},
		{"tag.**", "tag.spray.pressure.changed", true},
		{"tag.**", "tagx.pressure", false},
		{"**", "anything.at.all", true},
		{"*.status", "hardware.status", true},
		{"*.*", "hardware", false},
		{"tag.*.*.changed", "tag.spray.pressure.changed", true},
		{"tag.*.**", "tag.spray", true},
		{"tag.*.**", "tag", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.topic))
		})
	}
}

func TestValidatePattern(t *testing.T) {
	valid := []string{"a", "a.b", "a.*", "*.b", "a.**", "**", "a.*.c.**"}
	for _, p := range valid {
		assert.NoError(t, ValidatePattern(p), p)
	}

	invalid := []string{"", ".", "a.", ".a", "a..b", "a.**.b", "**.a", "a*", "a.b*c", "a.***"}
	for _, p := range invalid {
		assert.ErrorIs(t, ValidatePattern(p), ErrInvalidPattern, p)
	}
}

func TestParseTopic(t *testing.T) {
	_, err := parseTopic("tag.pressure.changed")
	assert.NoError(t, err)

	for _, topic := range []string{"", "a..b", "a.", "tag.*", "tag.**"} {
		_, err := parseTopic(topic)
		assert.ErrorIs(t, err, ErrInvalidTopic, topic)
	}
}

func TestMatch_InvalidInputNeverMatches(t *testing.T) {
	assert.False(t, Match("a..b", "a..b"))
	assert.False(t, Match("**", "tag.*"))
}
