// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "log/slog"

// Attrs exposes the structured fields of the error for slog output.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 6)

	a = append(a, slog.String("kind", e.Kind.String()))

	if e.DeviceID != "" {
		a = append(a, slog.String("device_id", e.DeviceID))
	}

	if e.Topic != "" {
		a = append(a, slog.String("topic", e.Topic))
	}

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case Timeout:
		a = append(a,
			slog.String("timeout_name", e.TimeoutName),
			slog.Duration("timeout_value", e.TimeoutValue),
		)
	case InvalidIdentifier, ArgumentInvalid, ConfigurationInvalid:
		a = append(a, slog.String("property_name", e.PropertyName))
		if e.PropertyValue != nil {
			a = append(a, slog.Any("property_value", e.PropertyValue))
		}
	case StateInvalid:
		a = append(a, slog.String("property_name", e.PropertyName))
	}

	return a
}
