// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"sync"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/internal/container"
)

type (
	// Store is the in-memory table of the most recent telemetry sample and
	// risk verdict per device. It is shared between the inbound-message
	// pipeline and the periodic health sweep; access to a given device's
	// entry is serialized with a per-device lock so that a sweep never reads
	// a half-updated sample and recording is never blocked behind a full
	// sweep.
	Store struct {
		entries container.SyncMap[device.Identifier, *entry]
	}

	entry struct {
		mu      sync.Mutex
		sample  device.HeartbeatSample
		verdict *RiskVerdict
	}
)

// NewStore creates an empty heartbeat store.
func NewStore() *Store {
	return &Store{entries: container.NewSyncMap[device.Identifier, *entry]()}
}

// Record overwrites the stored sample for the device. Each new sample fully
// replaces the prior one; samples are never merged. Risk state is not
// touched, evaluation is the caller's concern.
func (s *Store) Record(sample device.HeartbeatSample) {
	e := s.entry(sample.DeviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sample = sample
}

// Sample returns the most recent sample for the device.
func (s *Store) Sample(id device.Identifier) (device.HeartbeatSample, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return device.HeartbeatSample{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sample.DeviceID == "" {
		return device.HeartbeatSample{}, false
	}
	return e.sample, true
}

// SetVerdict stores the risk verdict for its device.
func (s *Store) SetVerdict(v *RiskVerdict) {
	e := s.entry(v.DeviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verdict = v
}

// ClearVerdict removes the device's risk verdict, if any.
func (s *Store) ClearVerdict(id device.Identifier) {
	e, ok := s.entries.Load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verdict = nil
}

// Verdict returns the device's active risk verdict.
func (s *Store) Verdict(id device.Identifier) (*RiskVerdict, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.verdict == nil {
		return nil, false
	}
	return e.verdict, true
}

// Snapshot returns the device's sample and verdict in one critical section.
func (s *Store) Snapshot(
	id device.Identifier,
) (device.HeartbeatSample, *RiskVerdict, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return device.HeartbeatSample{}, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sample.DeviceID == "" {
		return device.HeartbeatSample{}, nil, false
	}
	return e.sample, e.verdict, true
}

// Purge removes the device's sample and verdict. A device that reappears and
// goes silent again is detected fresh.
func (s *Store) Purge(id device.Identifier) {
	s.entries.Delete(id)
}

// Devices returns a snapshot of the devices with a stored entry.
func (s *Store) Devices() []device.Identifier {
	return s.entries.Keys()
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) entry(id device.Identifier) *entry {
	e, _ := s.entries.LoadOrStore(id, &entry{})
	return e
}
