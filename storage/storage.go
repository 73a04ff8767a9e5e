// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package storage defines the narrow persistence surface consumed by the
// device service. Device, user, and intervention records live in an external
// system; the service only needs status updates and intervention creation.
package storage

import (
	"context"

	"github.com/Orama4/devices-service/device"
)

// Repository is the storage collaborator. Implementations must tolerate
// retries; a duplicate intervention created on retry is an accepted risk.
type Repository interface {
	SetStatus(
		ctx context.Context,
		id device.Identifier,
		status device.Status,
	) error
	CreateIntervention(ctx context.Context, iv device.Intervention) error
}
