package mqtt

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	sharePrefix         = "$share/"
)

// ValidateTopicName checks a topic name used in PUBLISH: non-empty,
// valid UTF-8, no NUL and no wildcards.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if len(topic) > maxUint16 || !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	if strings.ContainsRune(topic, 0) || strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter checks a subscription filter. '+' must fill a whole
// level, '#' must fill the last level. Shared subscription filters
// ($share/<name>/<filter>) are validated on their filter part.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if len(filter) > maxUint16 || !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	if rest, ok := strings.CutPrefix(filter, sharePrefix); ok {
		name, inner, found := strings.Cut(rest, string(topicSeparator))
		if !found || name == "" || inner == "" || strings.ContainsAny(name, "+#") {
			return ErrInvalidTopicFilter
		}
		filter = inner
	}

	levels := strings.Split(filter, string(topicSeparator))
	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != "+" {
			return ErrInvalidTopicFilter
		}
		if strings.ContainsRune(level, multiLevelWildcard) && (level != "#" || i != len(levels)-1) {
			return ErrInvalidTopicFilter
		}
	}
	return nil
}

// TopicMatch reports whether topic matches filter. Topics starting with
// '$' are not matched by a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if rest, ok := strings.CutPrefix(filter, sharePrefix); ok {
		if _, inner, found := strings.Cut(rest, string(topicSeparator)); found {
			filter = inner
		}
	}
	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}
	return matchLevels(filter, topic)
}

func matchLevels(filter, topic string) bool {
	fl := strings.Split(filter, string(topicSeparator))
	tl := strings.Split(topic, string(topicSeparator))

	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
