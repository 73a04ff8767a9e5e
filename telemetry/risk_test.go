// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/telemetry"
)

func sampleWithMetrics(m device.Metrics) device.HeartbeatSample {
	return device.HeartbeatSample{
		DeviceID:       "001122334455",
		Timestamp:      1700000000,
		Metrics:        m,
		ReportedStatus: "connected",
		Online:         true,
	}
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		name    string
		metrics device.Metrics
		risky   bool
		reason  string
	}{
		{
			name:    "all nominal",
			metrics: device.Metrics{CPUPercent: 10, RAMPercent: 10, TemperatureC: 40},
			risky:   false,
		},
		{
			name:    "temperature at threshold",
			metrics: device.Metrics{TemperatureC: 70},
			risky:   true,
			reason:  "temperature",
		},
		{
			name:    "temperature above threshold",
			metrics: device.Metrics{TemperatureC: 75},
			risky:   true,
			reason:  "temperature",
		},
		{
			name:    "cpu above threshold",
			metrics: device.Metrics{CPUPercent: 97},
			risky:   true,
			reason:  "CPU",
		},
		{
			name:    "ram above threshold",
			metrics: device.Metrics{RAMPercent: 92},
			risky:   true,
			reason:  "RAM",
		},
		{
			// Fixed evaluation order: temperature wins over CPU and RAM.
			name:    "multiple breaches report temperature first",
			metrics: device.Metrics{TemperatureC: 80, CPUPercent: 99, RAMPercent: 95},
			risky:   true,
			reason:  "temperature",
		},
		{
			name:    "cpu and ram breached reports cpu first",
			metrics: device.Metrics{CPUPercent: 99, RAMPercent: 95},
			risky:   true,
			reason:  "CPU",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, risky := telemetry.Evaluate(sampleWithMetrics(tt.metrics))
			require.Equal(t, tt.risky, risky)
			if !tt.risky {
				assert.Nil(t, verdict)
				return
			}
			require.NotNil(t, verdict)
			assert.Contains(t, verdict.Reason, tt.reason)
			assert.Equal(t, device.Identifier("001122334455"), verdict.DeviceID)
		})
	}
}

func TestEvaluateSkipsDefectiveDevices(t *testing.T) {
	sample := sampleWithMetrics(device.Metrics{TemperatureC: 90})
	sample.ReportedStatus = string(device.StatusDefective)

	verdict, risky := telemetry.Evaluate(sample)
	assert.False(t, risky)
	assert.Nil(t, verdict)
}

func TestRiskClearing(t *testing.T) {
	store := telemetry.NewStore()

	hot := sampleWithMetrics(device.Metrics{TemperatureC: 75})
	store.Record(hot)
	verdict, risky := telemetry.Evaluate(hot)
	require.True(t, risky)
	require.Contains(t, verdict.Reason, "temperature")
	store.SetVerdict(verdict)

	_, ok := store.Verdict(hot.DeviceID)
	require.True(t, ok)

	// A compliant sample clears the verdict.
	cool := sampleWithMetrics(device.Metrics{
		TemperatureC: 60, CPUPercent: 10, RAMPercent: 10,
	})
	store.Record(cool)
	_, risky = telemetry.Evaluate(cool)
	require.False(t, risky)
	store.ClearVerdict(cool.DeviceID)

	_, ok = store.Verdict(cool.DeviceID)
	assert.False(t, ok)
}
