// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device

type (
	// Metrics are the resource readings reported in a heartbeat.
	Metrics struct {
		CPUPercent   float64 `json:"cpuPercent"`
		RAMUsed      float64 `json:"ramUsed"`
		RAMTotal     float64 `json:"ramTotal"`
		RAMPercent   float64 `json:"ramPercent"`
		TemperatureC float64 `json:"temperatureC"`
	}

	// HeartbeatSample is the most recent telemetry reported by a device.
	// Each inbound heartbeat fully replaces the prior sample; samples are
	// never merged.
	HeartbeatSample struct {
		DeviceID Identifier `json:"deviceId"`

		// Timestamp is the producer clock, in unix seconds.
		Timestamp int64 `json:"timestamp"`

		Metrics        Metrics `json:"metrics"`
		ReportedStatus string  `json:"reportedStatus"`
		Online         bool    `json:"online"`
	}
)
