// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mqtttest provides an in-memory transport implementing the mqtt
// Client interface for deterministic tests, with failure injection and
// delivery inspection.
package mqtttest

import (
	"context"
	"sync"

	"github.com/Orama4/devices-service/mqtt"
)

type (
	// Client is an in-memory mqtt.Client. Inbound messages are delivered to
	// matching subscribers in order by a single dispatcher goroutine,
	// mirroring the asynchronous delivery of a real broker while keeping
	// ordering deterministic.
	Client struct {
		mu   sync.Mutex
		subs []*subscription

		published    []*mqtt.Message
		unsubscribes map[string]int

		// SubscribeError and PublishError, when set, fail the corresponding
		// operation.
		SubscribeError error
		PublishError   error

		// OnPublish, when set, observes every successful publish. Tests use
		// it to simulate the device side of an exchange.
		OnPublish func(*mqtt.Message)

		inbound chan *mqtt.Message
		done    chan struct{}
	}

	subscription struct {
		client  *Client
		filter  string
		handler mqtt.MessageHandler
		removed bool
		once    sync.Once
	}
)

// NewClient constructs a fake client and starts its dispatcher.
func NewClient() *Client {
	c := &Client{
		unsubscribes: map[string]int{},
		inbound:      make(chan *mqtt.Message, 64),
		done:         make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Close stops the dispatcher.
func (c *Client) Close() {
	close(c.done)
}

// ID implements mqtt.Client.
func (c *Client) ID() string {
	return "mqtttest"
}

// Publish implements mqtt.Client. The message is recorded and handed to the
// OnPublish hook; it is not looped back to subscribers.
func (c *Client) Publish(
	_ context.Context,
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) error {
	c.mu.Lock()
	if c.PublishError != nil {
		err := c.PublishError
		c.mu.Unlock()
		return err
	}

	var opt mqtt.PublishOptions
	opt.Apply(opts)
	msg := &mqtt.Message{Topic: topic, Payload: payload, PublishOptions: opt}
	c.published = append(c.published, msg)
	hook := c.OnPublish
	c.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

// Subscribe implements mqtt.Client.
func (c *Client) Subscribe(
	_ context.Context,
	filter string,
	handler mqtt.MessageHandler,
	_ ...mqtt.SubscribeOption,
) (mqtt.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeError != nil {
		return nil, c.SubscribeError
	}

	sub := &subscription{client: c, filter: filter, handler: handler}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Unsubscribe implements mqtt.Subscription.
func (s *subscription) Unsubscribe(context.Context) error {
	s.once.Do(func() {
		s.client.mu.Lock()
		defer s.client.mu.Unlock()
		s.removed = true
		s.client.unsubscribes[s.filter]++
	})
	return nil
}

// Receive queues an inbound message for delivery to matching subscribers.
func (c *Client) Receive(
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) {
	var opt mqtt.PublishOptions
	opt.Apply(opts)
	c.inbound <- &mqtt.Message{
		Topic:          topic,
		Payload:        payload,
		PublishOptions: opt,
	}
}

func (c *Client) dispatch() {
	for {
		select {
		case msg := <-c.inbound:
			c.mu.Lock()
			var handlers []mqtt.MessageHandler
			for _, sub := range c.subs {
				if !sub.removed && mqtt.IsTopicFilterMatch(sub.filter, msg.Topic) {
					handlers = append(handlers, sub.handler)
				}
			}
			c.mu.Unlock()

			for _, handle := range handlers {
				handle(context.Background(), msg)
			}
		case <-c.done:
			return
		}
	}
}

// Published returns the messages published so far.
func (c *Client) Published() []*mqtt.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*mqtt.Message(nil), c.published...)
}

// ActiveSubscriptions counts the live subscriptions for a filter.
func (c *Client) ActiveSubscriptions(filter string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, sub := range c.subs {
		if !sub.removed && sub.filter == filter {
			n++
		}
	}
	return n
}

// Unsubscribes counts the unsubscribe calls issued for a filter.
func (c *Client) Unsubscribes(filter string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes[filter]
}
