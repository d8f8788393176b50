package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedisTransport(action func(transport *RedisTransport, db *miniredis.Miniredis)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: db.Addr()})
	transport := NewRedisTransport(redisClient, RedisConfig{
		KeyPrefix:    "importtracker:",
		PollInterval: 5 * time.Millisecond,
	})
	defer transport.Close()
	action(transport, db)
}

func TestRedisTransport_PublishSubscribe(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, db *miniredis.Miniredis) {
		require.NoError(t, transport.Check())
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		first := testMessage()
		second := testMessage()
		second.Attributes["token"] = "second"
		require.NoError(t, transport.Publish(ctx, "TestIncoming", first))
		require.NoError(t, transport.Publish(ctx, "TestIncoming", second))
		assert.True(t, db.Exists("importtracker:TestIncoming"))

		handler, received := collect()
		go func() {
			assert.NoError(t, transport.Subscribe(ctx, "TestIncoming", "relay", handler))
		}()

		msg := receive(t, received)
		assertSameContent(t, first, msg)
		assert.Equal(t, "TestIncoming", msg.Channel)
		assertSameContent(t, second, receive(t, received))

		// Handled messages are removed from the consumer's processing list.
		processing := "importtracker:TestIncoming:processing:relay:0"
		require.Eventually(t, func() bool {
			return transport.db.LLen(processing).Val() == 0 && transport.db.LLen("importtracker:TestIncoming").Val() == 0
		}, testTimeout, time.Millisecond)
	})
}

func TestRedisTransport_RecoversUnfinishedMessages(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, db *miniredis.Miniredis) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		// A consumer of group g took this message and died before handling it.
		unfinished := testMessage()
		unfinished.Attributes["token"] = "unfinished"
		data, err := json.Marshal(&redisEnvelope{Id: "01G4ZQ3V6X0000000000000000", Attributes: unfinished.Attributes, Body: unfinished.Body})
		require.NoError(t, err)
		_, err = db.Lpush("importtracker:c:processing:g:0", string(data))
		require.NoError(t, err)

		handler, received := collect()
		go func() { _ = transport.Subscribe(ctx, "c", "g", handler) }()

		msg := receive(t, received)
		assert.Equal(t, "01G4ZQ3V6X0000000000000000", msg.Id)
		assertSameContent(t, unfinished, msg)
		require.Eventually(t, func() bool {
			return transport.db.LLen("importtracker:c:processing:g:0").Val() == 0
		}, testTimeout, time.Millisecond)
	})
}

func TestRedisTransport_ConsumersUseSeparateProcessingLists(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, _ *miniredis.Miniredis) {
		first, releaseFirst := transport.claimProcessingList("c", "g")
		second, releaseSecond := transport.claimProcessingList("c", "g")
		other, releaseOther := transport.claimProcessingList("c", "h")
		defer releaseSecond()
		defer releaseOther()

		assert.Equal(t, "importtracker:c:processing:g:0", first)
		assert.Equal(t, "importtracker:c:processing:g:1", second)
		assert.Equal(t, "importtracker:c:processing:h:0", other)

		releaseFirst()
		reclaimed, releaseReclaimed := transport.claimProcessingList("c", "g")
		defer releaseReclaimed()
		assert.Equal(t, first, reclaimed)
	})
}

func TestRedisTransport_RequeuesOnHandlerError(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, _ *miniredis.Miniredis) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		require.NoError(t, transport.Publish(ctx, "c", testMessage()))

		var attempts int32
		ids := make(chan string, 10)
		go func() {
			_ = transport.Subscribe(ctx, "c", "g", func(_ context.Context, msg *Message) error {
				ids <- msg.Id
				if atomic.AddInt32(&attempts, 1) == 1 {
					return fmt.Errorf("transient")
				}
				return nil
			})
		}()
		first := <-ids
		assert.Equal(t, first, <-ids)
	})
}

func TestRedisTransport_SkipsUndecodable(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, db *miniredis.Miniredis) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_, err := db.Lpush("importtracker:c", "not json")
		require.NoError(t, err)
		require.NoError(t, transport.Publish(ctx, "c", testMessage()))

		handler, received := collect()
		go func() { _ = transport.Subscribe(ctx, "c", "g", handler) }()
		assertSameContent(t, testMessage(), receive(t, received))
	})
}

func TestRedisTransport_CheckFailsWhenServerDown(t *testing.T) {
	withRedisTransport(func(transport *RedisTransport, db *miniredis.Miniredis) {
		db.Close()
		assert.Error(t, transport.Check())
	})
}
