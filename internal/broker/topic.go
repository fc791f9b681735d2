package broker

import (
	"fmt"
	"strings"
)

const (
	wildcardOne  = "*"
	wildcardTail = "**"

	// replyPrefix is the first segment of private reply topics.
	replyPrefix = "_reply"
)

// ReplyTopic returns the private reply topic for a correlation id.
func ReplyTopic(correlationID string) string {
	return replyPrefix + "." + correlationID
}

// parsePattern splits and validates a subscription pattern.
func parsePattern(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		switch {
		case seg == "":
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		case seg == wildcardTail:
			if i != len(segs)-1 {
				return nil, fmt.Errorf("%w: %q must be the last segment in %q", ErrInvalidPattern, wildcardTail, pattern)
			}
		case seg == wildcardOne:
		case strings.Contains(seg, wildcardOne):
			return nil, fmt.Errorf("%w: partial wildcard %q in %q", ErrInvalidPattern, seg, pattern)
		}
	}
	return segs, nil
}

// parseTopic splits and validates a concrete publish topic.
func parseTopic(topic string) ([]string, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.Contains(topic, wildcardOne) {
		return nil, fmt.Errorf("%w: wildcard in %q", ErrInvalidTopic, topic)
	}
	segs := strings.Split(topic, ".")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidTopic, topic)
		}
	}
	return segs, nil
}

// match reports whether topic segments satisfy pattern segments.
// The pattern must have been validated by parsePattern.
func match(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == wildcardTail {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if p != wildcardOne && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// Match reports whether topic matches pattern. Invalid input never matches.
func Match(pattern, topic string) bool {
	p, err := parsePattern(pattern)
	if err != nil {
		return false
	}
	t, err := parseTopic(topic)
	if err != nil {
		return false
	}
	return match(p, t)
}

// ValidatePattern returns ErrInvalidPattern if pattern is malformed.
func ValidatePattern(pattern string) error {
	_, err := parsePattern(pattern)
	return err
}
