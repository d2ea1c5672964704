package asyncmqtt

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Topic errors - check with errors.Is().
var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name used for PUBLISH.
// Topic names cannot contain wildcards and must be valid UTF-8.
// MQTT v3.1.1: Section 4.7.3
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	// Check for null character and wildcards
	for _, r := range topic {
		if r == 0 {
			return ErrInvalidTopicName
		}
		if r == singleLevelWildcard || r == multiLevelWildcard {
			return ErrInvalidTopicName
		}
	}

	return nil
}

// ValidateTopicFilter validates a topic filter used for SUBSCRIBE and UNSUBSCRIBE.
// Topic filters can contain wildcards but must follow wildcard rules.
// MQTT v3.1.1: Section 4.7.1
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	// Check for null character
	for _, r := range filter {
		if r == 0 {
			return ErrInvalidTopicFilter
		}
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		// Single-level wildcard must occupy entire level
		if strings.Contains(level, string(singleLevelWildcard)) {
			if level != string(singleLevelWildcard) {
				return ErrInvalidTopicFilter
			}
		}

		// Multi-level wildcard must be last level and occupy entire level
		if strings.Contains(level, string(multiLevelWildcard)) {
			if level != string(multiLevelWildcard) {
				return ErrInvalidTopicFilter
			}
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch checks if a topic name matches a topic filter.
// This implementation avoids allocations by not using strings.Split.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	// System topics ($SYS/) don't match wildcards at root level
	if topic[0] == '$' {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchTopicNoAlloc(filter, topic)
}

// matchTopicNoAlloc matches topic against filter without allocations.
func matchTopicNoAlloc(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for {
		// Get current filter level
		fend := fi
		for fend < flen && filter[fend] != topicSeparator {
			fend++
		}
		flevel := filter[fi:fend]

		// Multi-level wildcard matches everything remaining
		if flevel == "#" {
			return true
		}

		// Get current topic level
		tend := ti
		for tend < tlen && topic[tend] != topicSeparator {
			tend++
		}
		tlevel := topic[ti:tend]

		// Single-level wildcard matches any single level, including an empty one
		if flevel != "+" && flevel != tlevel {
			return false
		}

		fdone, tdone := fend == flen, tend == tlen
		switch {
		case fdone && tdone:
			return true
		case fdone:
			return false
		case tdone:
			// "a/#" also matches its parent "a"
			return filter[fend:] == "/#"
		}

		fi, ti = fend+1, tend+1
	}
}

// IsSystemTopic returns true if the topic is a system topic ($SYS/).
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}


type route struct {
	filter  string
	handler MessageHandler
}

// MessageRouter dispatches inbound message fragments to handlers by topic
// filter. Pass its HandleMessage method to OnMessage. Every matching
// handler is called, in registration order.
//
// Not safe for concurrent use; register routes before connecting.
type MessageRouter struct {
	routes   []route
	fallback MessageHandler
}

// NewMessageRouter creates an empty router.
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{}
}

// Handle registers handler for messages matching filter.
func (r *MessageRouter) Handle(filter string, handler MessageHandler) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}
	r.routes = append(r.routes, route{filter: filter, handler: handler})
	return nil
}

// HandleDefault registers the handler for messages no route matched.
func (r *MessageRouter) HandleDefault(handler MessageHandler) {
	r.fallback = handler
}

// HandleMessage dispatches one message fragment.
func (r *MessageRouter) HandleMessage(topic string, payload []byte, props MessageProperties, length, index, total int) {
	matched := false

	for _, rt := range r.routes {
		if TopicMatch(rt.filter, topic) {
			matched = true
			rt.handler(topic, payload, props, length, index, total)
		}
	}

	if !matched && r.fallback != nil {
		r.fallback(topic, payload, props, length, index, total)
	}
}
