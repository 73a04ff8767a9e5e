// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Orama4/devices-service/mqtt"
)

func TestTopicFilterMatch(t *testing.T) {
	tests := []struct {
		filter   string
		topic    string
		expected bool
	}{
		{"device001122334455/response", "device001122334455/response", true},
		{"device001122334455/response", "device001122334455/request", false},
		{"device001122334455/response", "deviceAABBCCDDEEFF/response", false},
		{"+/heartbeat", "device001122334455/heartbeat", true},
		{"+/heartbeat", "device001122334455/response", false},
		{"+/heartbeat", "device001122334455/a/heartbeat", false},
		{"+/heartbeat", "heartbeat", false},
		{"device001122334455/#", "device001122334455", true},
		{"device001122334455/#", "device001122334455/response", true},
		{"device001122334455/#", "device001122334455/response/extra", true},
		{"#/response", "device001122334455/response", false}, // Invalid filter
	}

	for _, test := range tests {
		isMatched := mqtt.IsTopicFilterMatch(test.filter, test.topic)
		require.Equal(
			t,
			test.expected,
			isMatched,
			"Topic filter: %s, Topic name: %s",
			test.filter,
			test.topic,
		)
	}
}
