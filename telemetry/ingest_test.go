// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orama4/devices-service/device"
	"github.com/Orama4/devices-service/mqtt/mqtttest"
	"github.com/Orama4/devices-service/telemetry"
)

const heartbeatTopic = "device001122334455/heartbeat"

func setupIngestor(t *testing.T) (*mqtttest.Client, *telemetry.Store) {
	t.Helper()

	client := mqtttest.NewClient()
	t.Cleanup(client.Close)

	store := telemetry.NewStore()
	ingestor, err := telemetry.NewIngestor(client, store)
	require.NoError(t, err)

	stop, err := ingestor.Listen(context.Background())
	require.NoError(t, err)
	t.Cleanup(stop)

	return client, store
}

func TestIngestRecordsSample(t *testing.T) {
	client, store := setupIngestor(t)

	client.Receive(heartbeatTopic, []byte(`{
		"timestamp": 1700000000,
		"metrics": {"cpuPercent": 12.5, "ramUsed": 512, "ramTotal": 1024,
			"ramPercent": 50, "temperatureC": 41},
		"reportedStatus": "connected",
		"online": true
	}`))

	require.Eventually(t, func() bool {
		_, ok := store.Sample("001122334455")
		return ok
	}, time.Second, time.Millisecond)

	sample, _ := store.Sample("001122334455")
	assert.Equal(t, device.Identifier("001122334455"), sample.DeviceID)
	assert.Equal(t, int64(1700000000), sample.Timestamp)
	assert.Equal(t, 12.5, sample.Metrics.CPUPercent)
	assert.True(t, sample.Online)

	_, risky := store.Verdict("001122334455")
	assert.False(t, risky)
}

func TestIngestSetsAndClearsVerdict(t *testing.T) {
	client, store := setupIngestor(t)

	client.Receive(heartbeatTopic, []byte(`{
		"timestamp": 1700000000,
		"metrics": {"temperatureC": 75},
		"reportedStatus": "connected"
	}`))

	require.Eventually(t, func() bool {
		_, ok := store.Verdict("001122334455")
		return ok
	}, time.Second, time.Millisecond)

	verdict, _ := store.Verdict("001122334455")
	assert.Contains(t, verdict.Reason, "temperature")

	client.Receive(heartbeatTopic, []byte(`{
		"timestamp": 1700000060,
		"metrics": {"temperatureC": 60, "cpuPercent": 10, "ramPercent": 10},
		"reportedStatus": "connected"
	}`))

	require.Eventually(t, func() bool {
		_, ok := store.Verdict("001122334455")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestIngestKeepsVerdictForDefectiveSamples(t *testing.T) {
	client, store := setupIngestor(t)

	client.Receive(heartbeatTopic, []byte(`{
		"timestamp": 1700000000,
		"metrics": {"temperatureC": 75},
		"reportedStatus": "connected"
	}`))

	require.Eventually(t, func() bool {
		_, ok := store.Verdict("001122334455")
		return ok
	}, time.Second, time.Millisecond)

	// A device that reports itself defective is not evaluated; its nominal
	// metrics must not erase the active verdict.
	client.Receive(heartbeatTopic, []byte(`{
		"timestamp": 1700000060,
		"metrics": {"temperatureC": 40, "cpuPercent": 5, "ramPercent": 5},
		"reportedStatus": "defective"
	}`))

	require.Eventually(t, func() bool {
		sample, ok := store.Sample("001122334455")
		return ok && sample.Timestamp == 1700000060
	}, time.Second, time.Millisecond)

	verdict, ok := store.Verdict("001122334455")
	require.True(t, ok)
	assert.Contains(t, verdict.Reason, "temperature")
}

func TestIngestDropsMalformedPayload(t *testing.T) {
	client, store := setupIngestor(t)

	client.Receive(heartbeatTopic, []byte(`{not json`))

	// A later valid heartbeat still lands, proving the loop survived.
	client.Receive(heartbeatTopic, []byte(`{"timestamp": 1700000000}`))

	require.Eventually(t, func() bool {
		_, ok := store.Sample("001122334455")
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.Len())
}

func TestIngestIgnoresForeignTopics(t *testing.T) {
	client, store := setupIngestor(t)

	client.Receive("sensor01/heartbeat", []byte(`{"timestamp": 1}`))
	client.Receive(heartbeatTopic, []byte(`{"timestamp": 2}`))

	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, time.Millisecond)

	_, ok := store.Sample("001122334455")
	assert.True(t, ok)
}
