// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package monitor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/log"
	"github.com/Orama4/devices-service/internal/wallclock"
	"github.com/Orama4/devices-service/iso"
	"github.com/Orama4/devices-service/storage"
)

// Transitioner applies status changes and raises maintenance interventions
// through the storage collaborator. Both operations are safe to retry;
// duplicate intervention creation on retry is an accepted risk.
type Transitioner struct {
	repo storage.Repository
	log  log.Logger
}

// NewTransitioner wraps the given repository.
func NewTransitioner(repo storage.Repository, logger *slog.Logger) *Transitioner {
	return &Transitioner{repo: repo, log: log.Wrap(logger)}
}

// SetStatus records the device's new administrative status.
func (t *Transitioner) SetStatus(
	ctx context.Context,
	id device.Identifier,
	status device.Status,
) error {
	if err := t.repo.SetStatus(ctx, id, status); err != nil {
		return &errors.Error{
			Message:     "could not update device status",
			Kind:        errors.StorageFailure,
			NestedError: err,
			DeviceID:    id.String(),
		}
	}
	t.log.Info(ctx, "device status updated",
		slog.String("device_id", id.String()),
		slog.String("status", string(status)),
	)
	return nil
}

// CreateIntervention raises a curative intervention for the device. The plan
// date defaults to now and the ID is assigned here; interventions are never
// mutated after creation.
func (t *Transitioner) CreateIntervention(
	ctx context.Context,
	id device.Identifier,
	remote bool,
) error {
	iv := device.Intervention{
		ID:       uuid.NewString(),
		Type:     device.InterventionCurative,
		DeviceID: id,
		Priority: device.PriorityHigh,
		IsRemote: remote,
		PlanDate: iso.DateTime(wallclock.Instance.Now()),
	}
	if err := t.repo.CreateIntervention(ctx, iv); err != nil {
		return &errors.Error{
			Message:     "could not create intervention",
			Kind:        errors.StorageFailure,
			NestedError: err,
			DeviceID:    id.String(),
		}
	}
	t.log.Info(ctx, "intervention created",
		slog.String("device_id", id.String()),
		slog.String("intervention_id", iv.ID),
		slog.Bool("remote", remote),
	)
	return nil
}
