// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "time"

type (
	// Error represents a structured device-service error. Failures are
	// surfaced as values of this type so that calling layers can always map
	// them to a response instead of crashing on a missing device.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		DeviceID string
		Topic    string

		TimeoutName  string
		TimeoutValue time.Duration

		PropertyName  string
		PropertyValue any
	}

	// Kind defines the type of error being surfaced.
	Kind int
)

// The following are the defined error kinds.
const (
	// InvalidIdentifier indicates a device identifier that does not survive
	// normalization.
	InvalidIdentifier Kind = iota

	// SubscriptionFailed indicates the response-topic subscribe failed; no
	// publish was attempted.
	SubscriptionFailed

	// PublishFailed indicates the request publish failed after a successful
	// subscribe.
	PublishFailed

	// Timeout indicates the device did not respond within the window.
	Timeout

	// Cancellation indicates the caller's context was cancelled.
	Cancellation

	// ParseFailed indicates a response arrived but was not valid JSON.
	ParseFailed

	// PayloadInvalid indicates a request payload that could not be encoded.
	PayloadInvalid

	// ArgumentInvalid indicates an invalid argument to a library call.
	ArgumentInvalid

	// ConfigurationInvalid indicates invalid service configuration.
	ConfigurationInvalid

	// StateInvalid indicates an operation against a closed component.
	StateInvalid

	// StorageFailure indicates the storage collaborator rejected a status
	// update or intervention.
	StorageFailure

	// UnknownError indicates an error that could not be classified.
	UnknownError
)

var kindNames = map[Kind]string{
	InvalidIdentifier:    "invalid identifier",
	SubscriptionFailed:   "subscription failed",
	PublishFailed:        "publish failed",
	Timeout:              "timeout",
	Cancellation:         "cancellation",
	ParseFailed:          "parse failed",
	PayloadInvalid:       "payload invalid",
	ArgumentInvalid:      "argument invalid",
	ConfigurationInvalid: "configuration invalid",
	StateInvalid:         "state invalid",
	StorageFailure:       "storage failure",
	UnknownError:         "unknown error",
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown error"
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// Is supports matching on kind via sentinel comparison in errors.Is chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}
