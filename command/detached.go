// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"context"
	"log/slog"

	"github.com/Orama4/devices-service/device"
)

// Command tokens understood by every device. Caller-supplied action tokens
// (activate, deactivate, maintenance) are validated by the calling layer, not
// here.
const (
	CommandStatus        = "status"
	CommandHeartbeatData = "get_heartbeat_data"
	CommandSetDefective  = "set_defective"
)

// SendDetached issues a command without waiting for its result. The outcome
// is logged and otherwise discarded; use it for fire-and-forget commands
// where the reply only matters for observability.
func (c *Correlator) SendDetached(
	ctx context.Context,
	id device.Identifier,
	command string,
	payload map[string]any,
) {
	go func() {
		ctx := context.WithoutCancel(ctx)
		if _, err := c.Send(ctx, id, command, payload); err != nil {
			c.log.Err(ctx, err,
				slog.String("device_id", id.String()),
				slog.String("command", command),
				slog.Bool("detached", true),
			)
			return
		}
		c.log.Debug(ctx, "detached command acknowledged",
			slog.String("device_id", id.String()),
			slog.String("command", command),
		)
	}()
}

// RequestStatus asks the device to report its status, discarding the reply.
func (c *Correlator) RequestStatus(ctx context.Context, id device.Identifier) {
	c.SendDetached(ctx, id, CommandStatus, nil)
}

// RequestHeartbeatData asks the device to publish a fresh telemetry sample,
// discarding the reply.
func (c *Correlator) RequestHeartbeatData(
	ctx context.Context,
	id device.Identifier,
) {
	c.SendDetached(ctx, id, CommandHeartbeatData, nil)
}

// NotifyDefective tells the device to self-report as defective. Best effort;
// an unreachable device is exactly the case this is used in.
func (c *Correlator) NotifyDefective(ctx context.Context, id device.Identifier) {
	c.SendDetached(ctx, id, CommandSetDefective, nil)
}
