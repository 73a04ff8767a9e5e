// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "context"

type (
	// Message represents a received message.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions
	}

	// MessageHandler is a callback invoked for each message received on a
	// subscribed topic. One delivery is made per physical message to every
	// active subscriber whose filter matches the topic, and all of them
	// observe the same Message value, so handlers may use the message
	// identity to coordinate.
	MessageHandler = func(context.Context, *Message)

	// Subscription represents a single active subscription. Unsubscribing
	// more than once is a no-op.
	Subscription interface {
		Unsubscribe(ctx context.Context) error
	}

	// Client is the narrow transport surface consumed by the device service:
	// publish, subscribe, and unsubscribe over topics. Connection lifecycle
	// and credential handling live behind the implementation.
	Client interface {
		ID() string
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...PublishOption,
		) error
		Subscribe(
			ctx context.Context,
			filter string,
			handler MessageHandler,
			opts ...SubscribeOption,
		) (Subscription, error)
	}
)
