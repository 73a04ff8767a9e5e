// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"fmt"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/internal/wallclock"
	"github.com/Orama4/devices-service/iso"
)

// RiskVerdict is a derived, self-clearing judgment that a device's latest
// telemetry breached a safety threshold. It exists only while the latest
// sample is in breach.
type RiskVerdict struct {
	DeviceID   device.Identifier `json:"deviceId"`
	DetectedAt iso.DateTime      `json:"detectedAt"`
	Reason     string            `json:"reason"`
}

// Static risk thresholds.
const (
	TemperatureThresholdC = 70.0
	CPUThresholdPercent   = 95.0
	RAMThresholdPercent   = 90.0
)

// Evaluate judges a sample against the static thresholds. The second result
// is false for a compliant sample, which also means any previously-stored
// verdict for the device must be cleared. Evaluation is skipped entirely for
// devices that already report themselves defective; a skipped sample is not
// a judgment and must not clear risk state.
//
// The reason reflects the first breached threshold in the fixed order
// temperature, CPU, RAM.
func Evaluate(sample device.HeartbeatSample) (*RiskVerdict, bool) {
	if sample.ReportedStatus == string(device.StatusDefective) {
		return nil, false
	}

	var reason string
	switch m := sample.Metrics; {
	case m.TemperatureC >= TemperatureThresholdC:
		reason = fmt.Sprintf(
			"temperature %.1f°C at or above %.0f°C",
			m.TemperatureC, TemperatureThresholdC,
		)
	case m.CPUPercent >= CPUThresholdPercent:
		reason = fmt.Sprintf(
			"CPU usage %.1f%% at or above %.0f%%",
			m.CPUPercent, CPUThresholdPercent,
		)
	case m.RAMPercent >= RAMThresholdPercent:
		reason = fmt.Sprintf(
			"RAM usage %.1f%% at or above %.0f%%",
			m.RAMPercent, RAMThresholdPercent,
		)
	default:
		return nil, false
	}

	return &RiskVerdict{
		DeviceID:   sample.DeviceID,
		DetectedAt: iso.DateTime(wallclock.Instance.Now()),
		Reason:     reason,
	}, true
}
