// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Orama4/devices-service/command"
	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/internal/wallclock"
	"github.com/Orama4/devices-service/mqtt"
	"github.com/Orama4/devices-service/mqtt/mqtttest"
)

const (
	testDeviceID      = device.Identifier("001122334455")
	testRequestTopic  = "device001122334455/request"
	testResponseTopic = "device001122334455/response"
)

func newCorrelator(
	t *testing.T,
	client *mqtttest.Client,
	opt ...command.CorrelatorOption,
) *command.Correlator {
	t.Helper()
	c, err := command.NewCorrelator(client, opt...)
	require.NoError(t, err)
	return c
}

func TestSendResolvesReply(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	client.OnPublish = func(msg *mqtt.Message) {
		require.Equal(t, testRequestTopic, msg.Topic)

		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		require.Equal(t, "status", body["command"])
		require.Equal(t, "high", body["urgency"])

		client.Receive(
			msg.ResponseTopic,
			[]byte(`{"status":"connected"}`),
			mqtt.WithCorrelationData(msg.CorrelationData),
		)
	}

	c := newCorrelator(t, client)
	res, err := c.Send(
		context.Background(),
		testDeviceID,
		"status",
		map[string]any{"urgency": "high"},
	)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status": "connected"}, res.Body)

	require.Equal(t, 0, client.ActiveSubscriptions(testResponseTopic))
	require.Equal(t, 1, client.Unsubscribes(testResponseTopic))
}

func TestSendFirstReplyWins(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	// Replies carry no correlation data; the first delivered message must
	// resolve the call and the second must be ignored.
	client.OnPublish = func(msg *mqtt.Message) {
		client.Receive(msg.ResponseTopic, []byte(`{"seq":1}`))
		client.Receive(msg.ResponseTopic, []byte(`{"seq":2}`))
	}

	c := newCorrelator(t, client)
	res, err := c.Send(context.Background(), testDeviceID, "status", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"seq": float64(1)}, res.Body)

	require.Equal(t, 1, client.Unsubscribes(testResponseTopic))
}

func TestSendTimeout(t *testing.T) {
	clock := wallclock.NewFake(time.Now())
	orig := wallclock.Instance
	wallclock.Instance = clock
	defer func() { wallclock.Instance = orig }()

	client := mqtttest.NewClient()
	defer client.Close()

	c := newCorrelator(t, client)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testDeviceID, "status", nil)
		errs <- err
	}()

	// Wait for the command to be in flight before advancing the clock.
	require.Eventually(t, func() bool {
		return len(client.Published()) == 1
	}, time.Second, time.Millisecond)

	clock.Advance(command.DefaultResponseTimeout)

	err := <-errs
	require.Error(t, err)
	require.Equal(t, errors.Timeout, errors.KindOf(err))
	require.EqualError(t, err, "device not responding")

	// Exactly one unsubscribe and no lingering listener.
	require.Equal(t, 1, client.Unsubscribes(testResponseTopic))
	require.Equal(t, 0, client.ActiveSubscriptions(testResponseTopic))
}

func TestSendConcurrentDemultiplexing(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	// Collect both requests, then reply in reverse order, echoing each
	// request's correlation data.
	requests := make(chan *mqtt.Message, 2)
	client.OnPublish = func(msg *mqtt.Message) {
		requests <- msg
	}

	c := newCorrelator(t, client)

	type result struct {
		body any
		err  error
	}
	results := make(map[string]chan result)
	for _, cmd := range []string{"command1", "command2"} {
		ch := make(chan result, 1)
		results[cmd] = ch
		go func(cmd string) {
			res, err := c.Send(context.Background(), testDeviceID, cmd, nil)
			if err != nil {
				ch <- result{err: err}
				return
			}
			ch <- result{body: res.Body}
		}(cmd)
	}

	byCommand := map[string]*mqtt.Message{}
	for len(byCommand) < 2 {
		msg := <-requests
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		byCommand[body["command"].(string)] = msg
	}

	for _, cmd := range []string{"command2", "command1"} {
		req := byCommand[cmd]
		client.Receive(
			req.ResponseTopic,
			[]byte(`{"responseTo":"`+cmd+`"}`),
			mqtt.WithCorrelationData(req.CorrelationData),
		)
	}

	for _, cmd := range []string{"command1", "command2"} {
		r := <-results[cmd]
		require.NoError(t, r.err)
		require.Equal(t, map[string]any{"responseTo": cmd}, r.body)
	}

	require.Equal(t, 2, client.Unsubscribes(testResponseTopic))
}

func TestSendFIFOFallback(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	c := newCorrelator(t, client)

	type result struct {
		body any
		err  error
	}

	// Start two calls in a known registration order.
	first := make(chan result, 1)
	go func() {
		res, err := c.Send(context.Background(), testDeviceID, "command1", nil)
		first <- result{resBody(res), err}
	}()
	require.Eventually(t, func() bool {
		return client.ActiveSubscriptions(testResponseTopic) == 1
	}, time.Second, time.Millisecond)

	second := make(chan result, 1)
	go func() {
		res, err := c.Send(context.Background(), testDeviceID, "command2", nil)
		second <- result{resBody(res), err}
	}()
	require.Eventually(t, func() bool {
		return client.ActiveSubscriptions(testResponseTopic) == 2
	}, time.Second, time.Millisecond)

	// A device that does not echo correlation data answers in order; the
	// oldest registration wins each delivery.
	client.Receive(testResponseTopic, []byte(`{"reply":1}`))
	r1 := <-first
	require.NoError(t, r1.err)
	require.Equal(t, map[string]any{"reply": float64(1)}, r1.body)

	client.Receive(testResponseTopic, []byte(`{"reply":2}`))
	r2 := <-second
	require.NoError(t, r2.err)
	require.Equal(t, map[string]any{"reply": float64(2)}, r2.body)
}

func TestSendSingleReplyResolvesOnlyOneCall(t *testing.T) {
	clock := wallclock.NewFake(time.Now())
	orig := wallclock.Instance
	wallclock.Instance = clock
	defer func() { wallclock.Instance = orig }()

	client := mqtttest.NewClient()
	defer client.Close()

	c := newCorrelator(t, client)

	// Two calls in a known registration order.
	first := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testDeviceID, "command1", nil)
		first <- err
	}()
	require.Eventually(t, func() bool {
		return client.ActiveSubscriptions(testResponseTopic) == 1
	}, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testDeviceID, "command2", nil)
		second <- err
	}()
	require.Eventually(t, func() bool {
		return client.ActiveSubscriptions(testResponseTopic) == 2
	}, time.Second, time.Millisecond)

	// One correlation-less reply resolves the first call and only the first
	// call; the second must keep waiting even though its handler also sees
	// the message and the first call's registration is being torn down.
	client.Receive(testResponseTopic, []byte(`{"reply":1}`))
	require.NoError(t, <-first)

	require.Eventually(t, func() bool {
		return client.ActiveSubscriptions(testResponseTopic) == 1
	}, time.Second, time.Millisecond)
	select {
	case err := <-second:
		t.Fatalf("second call resolved from an already-consumed reply: %v", err)
	default:
	}

	clock.Advance(command.DefaultResponseTimeout)
	require.Equal(t, errors.Timeout, errors.KindOf(<-second))
}

func resBody(res *command.Response) any {
	if res == nil {
		return nil
	}
	return res.Body
}

func TestSendParseFailure(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	client.OnPublish = func(msg *mqtt.Message) {
		client.Receive(
			msg.ResponseTopic,
			[]byte(`{not json`),
			mqtt.WithCorrelationData(msg.CorrelationData),
		)
	}

	c := newCorrelator(t, client)
	res, err := c.Send(context.Background(), testDeviceID, "status", nil)
	require.Nil(t, res)
	require.Equal(t, errors.ParseFailed, errors.KindOf(err))

	require.Equal(t, 1, client.Unsubscribes(testResponseTopic))
}

func TestSendSubscribeFailure(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()
	client.SubscribeError = &errors.Error{
		Message: "broker unavailable",
		Kind:    errors.UnknownError,
	}

	c := newCorrelator(t, client)
	_, err := c.Send(context.Background(), testDeviceID, "status", nil)
	require.Equal(t, errors.SubscriptionFailed, errors.KindOf(err))

	// No publish may be attempted after a failed subscribe.
	require.Empty(t, client.Published())
}

func TestSendPublishFailure(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()
	client.PublishError = &errors.Error{
		Message: "broker unavailable",
		Kind:    errors.UnknownError,
	}

	c := newCorrelator(t, client)
	_, err := c.Send(context.Background(), testDeviceID, "status", nil)
	require.Equal(t, errors.PublishFailed, errors.KindOf(err))

	// The subscription from the failed exchange must be torn down.
	require.Equal(t, 1, client.Unsubscribes(testResponseTopic))
}

func TestSendIgnoresOtherTopics(t *testing.T) {
	client := mqtttest.NewClient()
	defer client.Close()

	clock := wallclock.NewFake(time.Now())
	orig := wallclock.Instance
	wallclock.Instance = clock
	defer func() { wallclock.Instance = orig }()

	client.OnPublish = func(msg *mqtt.Message) {
		// A reply for some other device must not resolve this call.
		client.Receive(
			"deviceAABBCCDDEEFF/response",
			[]byte(`{"status":"connected"}`),
		)
	}

	c := newCorrelator(t, client)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), testDeviceID, "status", nil)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return len(client.Published()) == 1
	}, time.Second, time.Millisecond)

	clock.Advance(command.DefaultResponseTimeout)
	require.Equal(t, errors.Timeout, errors.KindOf(<-errs))
}
