// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device

import (
	"strings"

	"github.com/Orama4/devices-service/errors"
)

// Identifier is the normalized key for a device, derived from a hardware
// address or numeric ID. It addresses the device's MQTT topics.
type Identifier string

// Topic segments shared by every device.
const (
	topicPrefix      = "device"
	requestSegment   = "/request"
	responseSegment  = "/response"
	heartbeatSegment = "/heartbeat"
)

// Identifiers longer than this do not correspond to any supported hardware
// address or numeric ID form.
const maxIdentifierLen = 32

// Normalize maps the raw identifier to its canonical form: `:` and `-`
// separators removed, remaining characters upper-cased. It never fails;
// unformatted hex strings pass through unchanged apart from casing.
func Normalize(raw string) string {
	s := strings.NewReplacer(":", "", "-", "").Replace(raw)
	return strings.ToUpper(s)
}

// ParseIdentifier normalizes and validates a raw device identifier. Callers
// are expected to reject invalid identifiers before involving the command
// correlator.
func ParseIdentifier(raw string) (Identifier, error) {
	norm := Normalize(raw)
	if norm == "" || len(norm) > maxIdentifierLen {
		return "", &errors.Error{
			Message:       "device identifier has implausible length",
			Kind:          errors.InvalidIdentifier,
			PropertyName:  "identifier",
			PropertyValue: raw,
		}
	}
	for _, r := range norm {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", &errors.Error{
				Message:       "device identifier contains non-hexadecimal characters",
				Kind:          errors.InvalidIdentifier,
				PropertyName:  "identifier",
				PropertyValue: raw,
			}
		}
	}
	return Identifier(norm), nil
}

// RequestTopic returns the topic the device listens on for commands.
func (id Identifier) RequestTopic() string {
	return topicPrefix + string(id) + requestSegment
}

// ResponseTopic returns the topic the device replies on.
func (id Identifier) ResponseTopic() string {
	return topicPrefix + string(id) + responseSegment
}

// HeartbeatTopic returns the topic the device publishes telemetry on.
func (id Identifier) HeartbeatTopic() string {
	return topicPrefix + string(id) + heartbeatSegment
}

// HeartbeatFilter is the subscription filter matching every device's
// heartbeat topic.
const HeartbeatFilter = "+" + heartbeatSegment

// IdentifierFromHeartbeatTopic recovers the device identifier from a
// heartbeat topic. The second result is false when the topic does not have
// the expected shape.
func IdentifierFromHeartbeatTopic(topic string) (Identifier, bool) {
	level, ok := strings.CutSuffix(topic, heartbeatSegment)
	if !ok {
		return "", false
	}
	raw, ok := strings.CutPrefix(level, topicPrefix)
	if !ok || strings.ContainsRune(raw, '/') {
		return "", false
	}
	id, err := ParseIdentifier(raw)
	return id, err == nil
}

func (id Identifier) String() string {
	return string(id)
}
