// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/container"
	"github.com/Orama4/devices-service/internal/log"
	"github.com/Orama4/devices-service/internal/wallclock"
	"github.com/Orama4/devices-service/mqtt"
)

type (
	// Correlator turns the one-way pub/sub channel into a request/response
	// primitive: it issues a command to a device and resolves exactly one
	// matching reply or a timeout. Every call owns an isolated correlation
	// context; concurrent calls against the same device never cross-resolve.
	Correlator struct {
		client  mqtt.Client
		timeout time.Duration
		queues  container.SyncMap[string, *pendingQueue]
		log     log.Logger
	}

	// CorrelatorOption represents a single correlator option.
	CorrelatorOption interface{ correlator(*CorrelatorOptions) }

	// CorrelatorOptions are the resolved correlator options.
	CorrelatorOptions struct {
		ResponseTimeout time.Duration
		Logger          *slog.Logger
	}

	// WithResponseTimeout overrides the default response timeout.
	WithResponseTimeout time.Duration

	// WithLogger sets the logger for the correlator.
	WithLogger struct{ *slog.Logger }

	// Response is a successful command result. The reply body is passed
	// through unchanged.
	Response struct {
		Body any
		Raw  []byte
	}

	// Return values for a call, since replies arrive asynchronously.
	callReturn struct {
		res *Response
		err error
	}

	// pendingCall is the correlation context of one in-flight exchange: a
	// return channel paired with a done channel to prevent blocking once the
	// caller has stopped listening.
	pendingCall struct {
		correlation []byte
		topic       string
		ret         chan callReturn
		done        chan struct{}
	}

	// pendingQueue tracks the calls awaiting a reply on one response topic
	// in registration order, for devices that do not echo correlation data.
	// Routing a correlation-less message is a single decision per physical
	// message: the queue records which message it last handed out, so the
	// handlers of later calls cannot re-accept a reply that already resolved
	// an earlier call, even after that call has been dequeued.
	pendingQueue struct {
		mu      sync.Mutex
		calls   []*pendingCall
		claimed *mqtt.Message
	}
)

// DefaultResponseTimeout bounds how long a device may take to reply.
const DefaultResponseTimeout = 5000 * time.Millisecond

const sendErrStr = "command exchange"

// NewCorrelator creates a correlator on top of the given transport.
func NewCorrelator(client mqtt.Client, opt ...CorrelatorOption) (*Correlator, error) {
	var options CorrelatorOptions
	options.Apply(opt)

	if client == nil {
		return nil, &errors.Error{
			Message:      "client must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "client",
		}
	}

	timeout := options.ResponseTimeout
	if timeout == 0 {
		timeout = DefaultResponseTimeout
	}
	if timeout < 0 {
		return nil, &errors.Error{
			Message:       "timeout cannot be negative",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "ResponseTimeout",
			PropertyValue: options.ResponseTimeout,
		}
	}

	return &Correlator{
		client:  client,
		timeout: timeout,
		queues:  container.NewSyncMap[string, *pendingQueue](),
		log:     log.Wrap(options.Logger),
	}, nil
}

// Send issues a command to the device and blocks until the first matching
// reply, the response timeout, or context cancellation. All failure modes
// surface as *errors.Error values so the calling layer can always map them
// to a response.
func (c *Correlator) Send(
	ctx context.Context,
	id device.Identifier,
	command string,
	payload map[string]any,
) (*Response, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["command"] = command

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &errors.Error{
			Message:     "command payload could not be encoded",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
			DeviceID:    id.String(),
		}
	}

	correlation := uuid.New()
	responseTopic := id.ResponseTopic()

	pending := &pendingCall{
		correlation: correlation[:],
		topic:       responseTopic,
		ret:         make(chan callReturn),
		done:        make(chan struct{}),
	}
	c.enqueue(pending)

	sub, err := c.client.Subscribe(ctx, responseTopic, c.handlerFor(pending))
	if err != nil {
		c.dequeue(pending)
		close(pending.done)
		return nil, &errors.Error{
			Message:     "could not subscribe to response topic",
			Kind:        errors.SubscriptionFailed,
			NestedError: err,
			DeviceID:    id.String(),
			Topic:       responseTopic,
		}
	}

	timer := wallclock.Instance.NewTimer(c.timeout)

	// Teardown runs exactly once regardless of which branch resolves the
	// call: pending registration removed, response topic unsubscribed, timer
	// cancelled.
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			c.dequeue(pending)
			close(pending.done)
			timer.Stop()
			if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
				c.log.Err(ctx, err, slog.String("topic", responseTopic))
			}
		})
	}
	defer teardown()

	err = c.client.Publish(
		ctx,
		id.RequestTopic(),
		data,
		mqtt.WithQoS(1),
		mqtt.WithContentType("application/json"),
		mqtt.WithCorrelationData(correlation[:]),
		mqtt.WithResponseTopic(responseTopic),
	)
	if err != nil {
		return nil, &errors.Error{
			Message:     "could not publish command",
			Kind:        errors.PublishFailed,
			NestedError: err,
			DeviceID:    id.String(),
			Topic:       id.RequestTopic(),
		}
	}

	select {
	case r := <-pending.ret:
		return r.res, r.err
	case <-timer.C():
		return nil, &errors.Error{
			Message:      "device not responding",
			Kind:         errors.Timeout,
			DeviceID:     id.String(),
			TimeoutName:  "ResponseTimeout",
			TimeoutValue: c.timeout,
		}
	case <-ctx.Done():
		return nil, errors.Context(ctx, sendErrStr)
	}
}

// handlerFor builds the message handler scoped to a single call. A message is
// accepted when its correlation data matches the call's, or when it carries
// no correlation data and this call claims it as the oldest pending
// registration for the topic. Each physical message is claimed at most once.
func (c *Correlator) handlerFor(pending *pendingCall) mqtt.MessageHandler {
	return func(ctx context.Context, msg *mqtt.Message) {
		if msg.Topic != pending.topic {
			return
		}

		if len(msg.CorrelationData) > 0 {
			if !bytes.Equal(msg.CorrelationData, pending.correlation) {
				return
			}
		} else if !c.claim(pending, msg) {
			return
		}

		var r callReturn
		var parsed any
		if err := json.Unmarshal(msg.Payload, &parsed); err != nil {
			r.err = &errors.Error{
				Message:     "response body is not valid JSON",
				Kind:        errors.ParseFailed,
				NestedError: err,
				Topic:       msg.Topic,
			}
		} else {
			r.res = &Response{Body: parsed, Raw: msg.Payload}
		}

		select {
		case pending.ret <- r:
		case <-pending.done:
		case <-ctx.Done():
		}
	}
}

func (c *Correlator) enqueue(pending *pendingCall) {
	queue, _ := c.queues.LoadOrStore(pending.topic, &pendingQueue{})
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.calls = append(queue.calls, pending)
}

func (c *Correlator) dequeue(pending *pendingCall) {
	queue, ok := c.queues.Load(pending.topic)
	if !ok {
		return
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	for i, p := range queue.calls {
		if p == pending {
			queue.calls = append(queue.calls[:i], queue.calls[i+1:]...)
			return
		}
	}
}

// claim hands the correlation-less message to the oldest pending call on its
// topic, exactly once. The transport delivers one Message value per physical
// message to every matching subscriber, so comparing the message identity
// under the queue lock rules out a second call accepting a reply that has
// already resolved the first, regardless of how the delivery to N handlers
// interleaves with the first call's teardown.
func (c *Correlator) claim(pending *pendingCall, msg *mqtt.Message) bool {
	queue, ok := c.queues.Load(pending.topic)
	if !ok {
		return false
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if queue.claimed == msg {
		return false
	}
	if len(queue.calls) == 0 || queue.calls[0] != pending {
		return false
	}
	queue.claimed = msg
	return true
}

// Apply resolves the provided list of options.
func (o *CorrelatorOptions) Apply(
	opts []CorrelatorOption,
	rest ...CorrelatorOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.correlator(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.correlator(o)
		}
	}
}

func (o *CorrelatorOptions) correlator(opt *CorrelatorOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithResponseTimeout) correlator(opt *CorrelatorOptions) {
	opt.ResponseTimeout = time.Duration(o)
}

func (o WithLogger) correlator(opt *CorrelatorOptions) {
	opt.Logger = o.Logger
}
