// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/log"
	"github.com/Orama4/devices-service/mqtt"
)

type (
	// Ingestor feeds inbound heartbeat messages into the store and keeps the
	// risk table current. Malformed telemetry is dropped with a warning; it
	// never crashes the subscription loop.
	Ingestor struct {
		client mqtt.Client
		store  *Store
		log    log.Logger
	}

	// IngestorOption represents a single ingestor option.
	IngestorOption interface{ ingestor(*IngestorOptions) }

	// IngestorOptions are the resolved ingestor options.
	IngestorOptions struct {
		Logger *slog.Logger
	}

	// WithLogger sets the logger for the ingestor.
	WithLogger struct{ *slog.Logger }
)

// NewIngestor creates an ingestor recording into the given store.
func NewIngestor(
	client mqtt.Client,
	store *Store,
	opt ...IngestorOption,
) (*Ingestor, error) {
	var options IngestorOptions
	options.Apply(opt)

	if client == nil || store == nil {
		return nil, &errors.Error{
			Message:      "client and store must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "client",
		}
	}

	return &Ingestor{
		client: client,
		store:  store,
		log:    log.Wrap(options.Logger),
	}, nil
}

// Listen subscribes to the heartbeat topics of all devices. It returns a
// function to stop listening.
func (i *Ingestor) Listen(ctx context.Context) (func(), error) {
	sub, err := i.client.Subscribe(
		ctx,
		device.HeartbeatFilter,
		i.handle,
		mqtt.WithQoS(1),
	)
	if err != nil {
		return nil, &errors.Error{
			Message:     "could not subscribe to heartbeat topics",
			Kind:        errors.SubscriptionFailed,
			NestedError: err,
			Topic:       device.HeartbeatFilter,
		}
	}

	return func() {
		if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
			// Returning an error from a close function that is most likely
			// to be deferred is rarely useful, so just log it.
			i.log.Err(ctx, err)
		}
	}, nil
}

func (i *Ingestor) handle(ctx context.Context, msg *mqtt.Message) {
	id, ok := device.IdentifierFromHeartbeatTopic(msg.Topic)
	if !ok {
		i.log.Warn(ctx, "heartbeat on unrecognized topic",
			slog.String("topic", msg.Topic),
		)
		return
	}

	var sample device.HeartbeatSample
	if err := json.Unmarshal(msg.Payload, &sample); err != nil {
		i.log.Warn(ctx, "discarding malformed heartbeat",
			slog.String("device_id", id.String()),
			slog.String("topic", msg.Topic),
			slog.Any("error", err),
		)
		return
	}

	// The topic, not the payload, is authoritative for identity.
	sample.DeviceID = id

	i.store.Record(sample)

	// A self-reported defective sample is not evaluated and says nothing
	// about risk; an active verdict stays in place.
	if sample.ReportedStatus == string(device.StatusDefective) {
		return
	}

	if verdict, risky := Evaluate(sample); risky {
		i.store.SetVerdict(verdict)
		i.log.Info(ctx, "device at risk",
			slog.String("device_id", id.String()),
			slog.String("reason", verdict.Reason),
		)
	} else {
		i.store.ClearVerdict(id)
	}
}

// Apply resolves the provided list of options.
func (o *IngestorOptions) Apply(
	opts []IngestorOption,
	rest ...IngestorOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.ingestor(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.ingestor(o)
		}
	}
}

func (o WithLogger) ingestor(opt *IngestorOptions) {
	opt.Logger = o.Logger
}
