// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device

import (
	"github.com/Orama4/devices-service/iso"
)

type (
	// Status is the administrative state of a device.
	Status string

	// InterventionType distinguishes scheduled maintenance from repair.
	InterventionType string

	// InterventionPriority orders maintenance work.
	InterventionPriority string

	// Intervention is a maintenance work order raised against a device. It
	// is created by the health monitor's transitioner and never mutated.
	Intervention struct {
		ID           string               `json:"id"`
		Type         InterventionType     `json:"type"`
		DeviceID     Identifier           `json:"deviceId"`
		MaintainerID string               `json:"maintainerId,omitempty"`
		Priority     InterventionPriority `json:"priority"`
		IsRemote     bool                 `json:"isRemote"`
		PlanDate     iso.DateTime         `json:"planDate"`
	}
)

// Device statuses. Transitions into StatusDefective or StatusBrokenDown are
// produced only by the health monitor, never by direct user command, and
// always pair with the creation of an Intervention.
const (
	StatusConnected        Status = "connected"
	StatusDisconnected     Status = "disconnected"
	StatusUnderMaintenance Status = "under_maintenance"
	StatusOutOfService     Status = "out_of_service"
	StatusDefective        Status = "defective"
	StatusBrokenDown       Status = "broken_down"
)

// Intervention types.
const (
	InterventionPreventive InterventionType = "preventive"
	InterventionCurative   InterventionType = "curative"
)

// Intervention priorities.
const (
	PriorityLow    InterventionPriority = "low"
	PriorityMedium InterventionPriority = "medium"
	PriorityHigh   InterventionPriority = "high"
)
