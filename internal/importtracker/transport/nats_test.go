package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withNatsTransport(t *testing.T, action func(transport *NatsTransport, s *server.Server)) {
	s := natstest.RunRandClientPortServer()
	defer s.Shutdown()

	transport, err := NewNatsTransport(NatsConfig{
		Servers:       []string{s.ClientURL()},
		SubjectPrefix: "importtracker.",
	})
	require.NoError(t, err)
	defer transport.Close()
	action(transport, s)
}

func TestNatsTransport_PublishSubscribe(t *testing.T) {
	withNatsTransport(t, func(transport *NatsTransport, s *server.Server) {
		require.NoError(t, transport.Check())
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		handler, received := collect()
		baseline := s.NumSubscriptions()
		go func() {
			assert.NoError(t, transport.Subscribe(ctx, "TestProcessing", "workers", handler))
		}()
		require.Eventually(t, func() bool { return s.NumSubscriptions() > baseline }, testTimeout, time.Millisecond)

		sent := testMessage()
		sent.Attributes["submitterId"] = "00000000-0000-0000-0000-000000000000"
		require.NoError(t, transport.Publish(ctx, "TestProcessing", sent))

		msg := receive(t, received)
		assertSameContent(t, sent, msg)
		assert.Equal(t, "TestProcessing", msg.Channel)
	})
}

func TestNatsTransport_QueueGroupDeliversOnce(t *testing.T) {
	withNatsTransport(t, func(transport *NatsTransport, s *server.Server) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		handler, received := collect()
		baseline := s.NumSubscriptions()
		for i := 0; i < 2; i++ {
			go func() { _ = transport.Subscribe(ctx, "TestStatus", "importtracker", handler) }()
		}
		require.Eventually(t, func() bool { return s.NumSubscriptions() >= baseline+2 }, testTimeout, time.Millisecond)

		require.NoError(t, transport.Publish(ctx, "TestStatus", testMessage()))
		receive(t, received)
		select {
		case msg := <-received:
			assert.Failf(t, "duplicate delivery", "message %s delivered twice", msg.Id)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestAttributeName(t *testing.T) {
	assert.Equal(t, "submitterId", attributeName("Submitterid"))
	assert.Equal(t, "correlationId", attributeName("correlationId"))
	assert.Equal(t, "X-Custom", attributeName("X-Custom"))
}
