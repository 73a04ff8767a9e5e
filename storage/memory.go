// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package storage

import (
	"context"
	"sync"

	"github.com/Orama4/devices-service/device"
)

// Memory is an in-process Repository. It backs local deployments without an
// external store and doubles as the repository fake in tests, with optional
// error injection.
type Memory struct {
	mu            sync.Mutex
	statuses      map[device.Identifier]device.Status
	interventions []device.Intervention

	// SetStatusError and CreateInterventionError, when set, fail the
	// corresponding operation.
	SetStatusError          error
	CreateInterventionError error
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{statuses: map[device.Identifier]device.Status{}}
}

// SetStatus implements Repository.
func (m *Memory) SetStatus(
	_ context.Context,
	id device.Identifier,
	status device.Status,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStatusError != nil {
		return m.SetStatusError
	}
	m.statuses[id] = status
	return nil
}

// CreateIntervention implements Repository.
func (m *Memory) CreateIntervention(
	_ context.Context,
	iv device.Intervention,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateInterventionError != nil {
		return m.CreateInterventionError
	}
	m.interventions = append(m.interventions, iv)
	return nil
}

// Status returns the recorded status for a device.
func (m *Memory) Status(id device.Identifier) (device.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[id]
	return status, ok
}

// Interventions returns the interventions created so far.
func (m *Memory) Interventions() []device.Intervention {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]device.Intervention(nil), m.interventions...)
}
