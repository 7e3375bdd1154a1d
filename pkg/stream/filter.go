// Package stream implements the relay's streaming decode pipeline: it
// consumes the upstream provider's noisy SSE events, keeps only the payloads
// that carry user-visible assistant content, suppresses near-duplicate
// fragments, and accumulates the full reply while frames are re-emitted to
// the caller.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// msgTypeBlacklist lists payload msg_type values that never carry
// user-visible content, even when a content field is present.
var msgTypeBlacklist = map[string]struct{}{
	"generate_answer_finish":         {},
	"end_turn":                       {},
	"conversation.message.completed": {},
	"tool_call":                      {},
	"function_call":                  {},
	"thinking":                       {},
	"reasoning":                      {},
}

// typeBlacklist lists payload type values that are control records.
var typeBlacklist = map[string]struct{}{
	"follow_up":     {},
	"tool_call":     {},
	"function_call": {},
}

// controlKeys are payload keys whose presence (with a truthy value) marks a
// tool-call or routing record rather than assistant content.
var controlKeys = []string{"tool_calls", "name", "from_module"}

// completionEvents are embedded event names that announce the end of a
// message. The data payload that follows such an announcement belongs to the
// same record and carries no displayable content.
var completionEvents = map[string]struct{}{
	"conversation.message.completed": {},
	"conversation.chat.completed":    {},
	"done":                           {},
}

// Filter classifies upstream data payloads and extracts assistant content.
//
// The provider's wire format sometimes nests an "event:" marker inside a data
// payload. When that embedded event announces a completed message, the next
// payload is part of the same record and must be consumed with it, so the
// Filter is stateful across calls within one response. Malformed payloads are
// expected protocol noise: they are dropped silently, never treated as errors.
type Filter struct {
	// skipNext marks the next payload as the tail of a completion record.
	skipNext bool
}

// NewFilter returns a Filter for a single response stream. Filters must not
// be reused across streams.
func NewFilter() *Filter {
	return &Filter{}
}

// Extract decides whether the data payload of one upstream event carries
// user-visible assistant content, and returns that content when it does.
// eventType is the event name from the SSE "event:" field, if any.
func (f *Filter) Extract(eventType, payload string) (string, bool) {
	payload = strings.TrimSpace(payload)

	if f.skipNext {
		// Tail half of a completion record: consume without inspecting.
		f.skipNext = false
		return "", false
	}

	if _, done := completionEvents[eventType]; done {
		return "", false
	}

	if payload == "" || payload == "[DONE]" {
		return "", false
	}

	// Some upstream chunks nest the event marker inside the data payload
	// instead of a separate SSE field.
	if name, ok := strings.CutPrefix(payload, "event:"); ok {
		name = strings.TrimSpace(name)
		if _, done := completionEvents[name]; done {
			// The following data payload belongs to this completion
			// record; pair them by skipping it too.
			f.skipNext = true
		}
		return "", false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		// Not JSON, or not a JSON object.
		return "", false
	}

	if msgType, ok := obj["msg_type"].(string); ok {
		if _, blacklisted := msgTypeBlacklist[msgType]; blacklisted {
			return "", false
		}
	}

	// Completion metadata is sometimes tucked into a nested data field.
	if data, ok := obj["data"]; ok {
		if strings.Contains(fmt.Sprintf("%v", data), "finish_reason") {
			return "", false
		}
	}

	if typ, ok := obj["type"].(string); ok {
		if _, blacklisted := typeBlacklist[typ]; blacklisted {
			return "", false
		}
	}

	for _, key := range controlKeys {
		if truthy(obj[key]) {
			return "", false
		}
	}

	content, ok := obj["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return "", false
	}

	return content, true
}

// truthy reports whether a decoded JSON value is non-empty in the sense the
// upstream protocol uses: present, not null, not false, not zero, not an
// empty string/array/object.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
