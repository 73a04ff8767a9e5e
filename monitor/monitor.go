// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/log"
	"github.com/Orama4/devices-service/internal/wallclock"
	"github.com/Orama4/devices-service/storage"
	"github.com/Orama4/devices-service/telemetry"
)

type (
	// Notifier is the best-effort outbound channel used to tell a device to
	// self-report as defective. The command correlator satisfies this.
	Notifier interface {
		NotifyDefective(ctx context.Context, id device.Identifier)
	}

	// Monitor periodically sweeps the heartbeat store, detects devices whose
	// telemetry has gone stale, and escalates them through the health state
	// machine. There is no automatic path back to connected; recovery is an
	// external administrative action.
	Monitor struct {
		store        *telemetry.Store
		transitioner *Transitioner
		notifier     Notifier
		staleAfter   time.Duration
		interval     time.Duration
		log          log.Logger

		started  atomic.Bool
		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}
	}

	// MonitorOption represents a single monitor option.
	MonitorOption interface{ monitor(*MonitorOptions) }

	// MonitorOptions are the resolved monitor options.
	MonitorOptions struct {
		SweepInterval time.Duration
		StaleAfter    time.Duration
		Notifier      Notifier
		Logger        *slog.Logger
	}

	// WithSweepInterval overrides the default sweep interval.
	WithSweepInterval time.Duration

	// WithStaleAfter overrides the default staleness threshold.
	WithStaleAfter time.Duration

	// WithNotifier sets the best-effort device notifier.
	WithNotifier struct{ Notifier }

	// WithLogger sets the logger for the monitor.
	WithLogger struct{ *slog.Logger }
)

const (
	// DefaultStaleAfter is how old a sample may be before its device is
	// considered stale.
	DefaultStaleAfter = 300000 * time.Millisecond

	// DefaultSweepInterval is how often the monitor sweeps the store.
	DefaultSweepInterval = time.Minute
)

// NewMonitor creates a monitor over the given store and repository.
func NewMonitor(
	store *telemetry.Store,
	repo storage.Repository,
	opt ...MonitorOption,
) (*Monitor, error) {
	var options MonitorOptions
	options.Apply(opt)

	if store == nil || repo == nil {
		return nil, &errors.Error{
			Message:      "store and repository must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "store",
		}
	}

	staleAfter := options.StaleAfter
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}
	interval := options.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter < 0 || interval < 0 {
		return nil, &errors.Error{
			Message:      "durations cannot be negative",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "SweepInterval",
		}
	}

	return &Monitor{
		store:        store,
		transitioner: NewTransitioner(repo, options.Logger),
		notifier:     options.Notifier,
		staleAfter:   staleAfter,
		interval:     interval,
		log:          log.Wrap(options.Logger),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the periodic sweep. It returns immediately; calling it more
// than once is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.started.Swap(true) {
		return
	}
	go func() {
		defer close(m.done)
		ticker := wallclock.Instance.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				m.Sweep(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the sweep loop. Safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// Sweep runs one pass over every device with a stored sample. Escalated
// devices are purged from memory; a later reappearance and silence is
// detected fresh. Devices whose escalation fails in storage stay in the
// store for re-evaluation on the next sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	now := wallclock.Instance.Now()
	for _, id := range m.store.Devices() {
		sample, verdict, ok := m.store.Snapshot(id)
		if !ok {
			continue
		}

		age := now.Sub(time.Unix(sample.Timestamp, 0))
		if age <= m.staleAfter {
			continue
		}

		if err := m.escalate(ctx, id, verdict); err != nil {
			m.log.Err(ctx, err, slog.Duration("sample_age", age))
			continue
		}
		m.store.Purge(id)
	}
}

// escalate drives a stale device's state transition. A device that was
// already at risk is defective and needs an on-site intervention; one that
// went silent while healthy is broken down and may be serviced remotely.
func (m *Monitor) escalate(
	ctx context.Context,
	id device.Identifier,
	verdict *telemetry.RiskVerdict,
) error {
	if verdict != nil {
		m.log.Warn(ctx, "stale device with active risk verdict",
			slog.String("device_id", id.String()),
			slog.String("reason", verdict.Reason),
		)
		if err := m.transitioner.SetStatus(ctx, id, device.StatusDefective); err != nil {
			return err
		}
		if err := m.transitioner.CreateIntervention(ctx, id, false); err != nil {
			return err
		}
		if m.notifier != nil {
			m.notifier.NotifyDefective(ctx, id)
		}
		return nil
	}

	m.log.Warn(ctx, "stale device without risk verdict",
		slog.String("device_id", id.String()),
	)
	if err := m.transitioner.SetStatus(ctx, id, device.StatusBrokenDown); err != nil {
		return err
	}
	return m.transitioner.CreateIntervention(ctx, id, true)
}

// Apply resolves the provided list of options.
func (o *MonitorOptions) Apply(
	opts []MonitorOption,
	rest ...MonitorOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.monitor(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.monitor(o)
		}
	}
}

func (o *MonitorOptions) monitor(opt *MonitorOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithSweepInterval) monitor(opt *MonitorOptions) {
	opt.SweepInterval = time.Duration(o)
}

func (o WithStaleAfter) monitor(opt *MonitorOptions) {
	opt.StaleAfter = time.Duration(o)
}

func (o WithNotifier) monitor(opt *MonitorOptions) {
	opt.Notifier = o.Notifier
}

func (o WithLogger) monitor(opt *MonitorOptions) {
	opt.Logger = o.Logger
}
