// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/log"
)

type (
	// SessionClient implements the Client interface over an MQTT v5
	// connection using paho. Subscriptions to the same filter are refcounted
	// locally, so concurrent subscribers each receive their own delivery of
	// every matching message and the broker-level unsubscribe is only sent
	// when the last local subscriber is gone.
	SessionClient struct {
		settings ConnectionSettings

		connected  atomic.Bool
		pahoClient *paho.Client
		conn       net.Conn

		subscriptionsMu sync.Mutex
		subscriptions   map[string]*topicSubscription

		log log.Logger
	}

	// SessionClientOption represents a single session client option.
	SessionClientOption interface{ sessionClient(*SessionClientOptions) }

	// SessionClientOptions are the resolved session client options.
	SessionClientOptions struct {
		Logger *slog.Logger
	}

	// WithLogger sets the logger for the session client.
	WithLogger struct{ *slog.Logger }

	// Local refcounted fan-out for a single broker subscription.
	topicSubscription struct {
		handlers []*registeredHandler
	}

	registeredHandler struct {
		handle  MessageHandler
		removed bool
	}

	// subscription is the per-caller handle returned by Subscribe.
	subscription struct {
		client  *SessionClient
		filter  string
		handler *registeredHandler
		once    sync.Once
	}
)

// NewSessionClient constructs a session client for the given connection
// settings. Connect must be called before any publish or subscribe.
func NewSessionClient(
	settings ConnectionSettings,
	opts ...SessionClientOption,
) *SessionClient {
	var options SessionClientOptions
	options.Apply(opts)

	if settings.ClientID == "" {
		settings.ClientID = randomClientID()
	}
	if settings.KeepAlive == 0 {
		settings.KeepAlive = 60
	}

	return &SessionClient{
		settings:      settings,
		subscriptions: map[string]*topicSubscription{},
		log:           log.Wrap(options.Logger),
	}
}

// ID returns the MQTT client ID for this session client.
func (c *SessionClient) ID() string {
	return c.settings.ClientID
}

// Connect establishes the connection. It blocks until the broker accepts the
// CONNECT packet or the context is cancelled.
func (c *SessionClient) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return &errors.Error{
			Message: "client is already connected",
			Kind:    errors.StateInvalid,
		}
	}

	var d net.Dialer
	addr := fmt.Sprintf("%s:%d", c.settings.Hostname, c.settings.Port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Normalize(err, "broker dial")
	}
	c.conn = conn

	c.pahoClient = paho.NewClient(paho.ClientConfig{
		ClientID: c.settings.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublishReceived,
		},
	})

	connect := &paho.Connect{
		ClientID:   c.settings.ClientID,
		KeepAlive:  c.settings.KeepAlive,
		CleanStart: true,
	}
	if c.settings.Username != "" {
		connect.Username = c.settings.Username
		connect.UsernameFlag = true
	}
	if len(c.settings.Password) > 0 {
		connect.Password = c.settings.Password
		connect.PasswordFlag = true
	}

	connack, err := c.pahoClient.Connect(ctx, connect)
	if err != nil {
		_ = conn.Close()
		return errors.Normalize(err, "broker connect")
	}
	if connack.ReasonCode >= 0x80 {
		_ = conn.Close()
		return &errors.Error{
			Message:       "broker rejected connection",
			Kind:          errors.StateInvalid,
			PropertyName:  "ReasonCode",
			PropertyValue: connack.ReasonCode,
		}
	}

	c.connected.Store(true)
	c.log.Info(ctx, "connected to broker",
		slog.String("address", addr),
		slog.String("client_id", c.settings.ClientID),
	)
	return nil
}

// Disconnect closes the connection gracefully.
func (c *SessionClient) Disconnect() error {
	if !c.connected.Swap(false) {
		return &errors.Error{
			Message: "client is not connected",
			Kind:    errors.StateInvalid,
		}
	}
	return c.pahoClient.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

// Publish sends a message to the given topic.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) error {
	if err := c.prepare(); err != nil {
		return err
	}

	var opt PublishOptions
	opt.Apply(opts)

	if opt.QoS >= 2 {
		return &errors.Error{
			Message:       "unsupported QoS",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "QoS",
			PropertyValue: opt.QoS,
		}
	}

	pub := &paho.Publish{
		QoS:     opt.QoS,
		Retain:  opt.Retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     opt.ContentType,
			CorrelationData: opt.CorrelationData,
			ResponseTopic:   opt.ResponseTopic,
			User:            mapToUserProperties(opt.UserProperties),
		},
	}

	if _, err := c.pahoClient.Publish(ctx, pub); err != nil {
		return errors.Normalize(err, "publish")
	}
	return nil
}

// Subscribe registers a handler for the given filter. Each call owns an
// independent local subscription; the broker-level SUBSCRIBE is only issued
// for the first one.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	filter string,
	handler MessageHandler,
	opts ...SubscribeOption,
) (Subscription, error) {
	if err := c.prepare(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, &errors.Error{
			Message:      "handler must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "handler",
		}
	}

	var opt SubscribeOptions
	opt.Apply(opts)

	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()

	reg := &registeredHandler{handle: handler}

	if ts, ok := c.subscriptions[filter]; ok {
		ts.handlers = append(ts.handlers, reg)
		return &subscription{client: c, filter: filter, handler: reg}, nil
	}

	sub := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:   filter,
			QoS:     opt.QoS,
			NoLocal: opt.NoLocal,
		}},
	}
	if _, err := c.pahoClient.Subscribe(ctx, sub); err != nil {
		return nil, errors.Normalize(err, "subscribe")
	}

	c.subscriptions[filter] = &topicSubscription{
		handlers: []*registeredHandler{reg},
	}
	return &subscription{client: c, filter: filter, handler: reg}, nil
}

// Unsubscribe removes this caller's handler and issues the broker-level
// UNSUBSCRIBE when it was the last one for the filter. Safe to call more
// than once.
func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.client.unsubscribe(ctx, s.filter, s.handler)
	})
	return err
}

func (c *SessionClient) unsubscribe(
	ctx context.Context,
	filter string,
	handler *registeredHandler,
) error {
	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()

	ts, ok := c.subscriptions[filter]
	if !ok {
		return nil
	}

	handler.removed = true
	remaining := ts.handlers[:0]
	for _, h := range ts.handlers {
		if !h.removed {
			remaining = append(remaining, h)
		}
	}
	ts.handlers = remaining

	if len(ts.handlers) > 0 {
		return nil
	}
	delete(c.subscriptions, filter)

	unsub := &paho.Unsubscribe{Topics: []string{filter}}
	if _, err := c.pahoClient.Unsubscribe(ctx, unsub); err != nil {
		return errors.Normalize(err, "unsubscribe")
	}
	return nil
}

// Dispatch an inbound publish to every local subscriber whose filter matches.
func (c *SessionClient) onPublishReceived(
	pb paho.PublishReceived,
) (bool, error) {
	msg := buildMessage(pb.Packet)

	c.subscriptionsMu.Lock()
	var handlers []MessageHandler
	for filter, ts := range c.subscriptions {
		if !IsTopicFilterMatch(filter, msg.Topic) {
			continue
		}
		for _, h := range ts.handlers {
			if !h.removed {
				handlers = append(handlers, h.handle)
			}
		}
	}
	c.subscriptionsMu.Unlock()

	ctx := context.Background()
	for _, handle := range handlers {
		handle(ctx, msg)
	}
	return true, nil
}

func buildMessage(p *paho.Publish) *Message {
	msg := &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		PublishOptions: PublishOptions{
			QoS:    p.QoS,
			Retain: p.Retain,
		},
	}
	if p.Properties != nil {
		msg.ContentType = p.Properties.ContentType
		msg.CorrelationData = p.Properties.CorrelationData
		msg.ResponseTopic = p.Properties.ResponseTopic
		msg.UserProperties = userPropertiesToMap(p.Properties.User)
	}
	return msg
}

func (c *SessionClient) prepare() error {
	if !c.connected.Load() {
		return &errors.Error{
			Message: "client is not connected",
			Kind:    errors.StateInvalid,
		}
	}
	return nil
}

func mapToUserProperties(m map[string]string) paho.UserProperties {
	if len(m) == 0 {
		return nil
	}
	user := make(paho.UserProperties, 0, len(m))
	for key, val := range m {
		user = append(user, paho.UserProperty{Key: key, Value: val})
	}
	return user
}

func userPropertiesToMap(user paho.UserProperties) map[string]string {
	if len(user) == 0 {
		return nil
	}
	m := make(map[string]string, len(user))
	for _, prop := range user {
		m[prop.Key] = prop.Value
	}
	return m
}

// Apply resolves the provided list of options.
func (o *SessionClientOptions) Apply(
	opts []SessionClientOption,
	rest ...SessionClientOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
}

func (o WithLogger) sessionClient(opt *SessionClientOptions) {
	opt.Logger = o.Logger
}
