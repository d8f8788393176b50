package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/util"
)

type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
	// Prepended to channel names to form list keys.
	KeyPrefix string
	// How long to wait between polls of an empty list.
	PollInterval time.Duration
}

// redisEnvelope is how a Message is stored in a list.
type redisEnvelope struct {
	Id          string            `json:"id"`
	Attributes  map[string]string `json:"attributes"`
	Body        []byte            `json:"body"`
	PublishTime time.Time         `json:"publishTime"`
}

// RedisTransport keeps one list per channel: publishers LPUSH and subscribers poll with RPOPLPUSH,
// giving FIFO order with competing consumers. Each subscriber moves the message it is handling
// onto its own processing list and removes it only once handled, so a message survives a crash
// of its consumer and is recovered by the next subscriber to take the same slot.
// A message whose handler fails is pushed back onto the channel.
type RedisTransport struct {
	db     redis.UniversalClient
	config RedisConfig

	mu    sync.Mutex
	slots map[string]map[int]bool
}

func NewRedisClient(config RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    config.Addrs,
		Password: config.Password,
		DB:       config.DB,
	})
}

const defaultRedisPollInterval = 100 * time.Millisecond

func NewRedisTransport(db redis.UniversalClient, config RedisConfig) *RedisTransport {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultRedisPollInterval
	}
	return &RedisTransport{db: db, config: config, slots: map[string]map[int]bool{}}
}

func (t *RedisTransport) key(channel string) string {
	return t.config.KeyPrefix + channel
}

// claimProcessingList hands out the lowest free processing list of channel and group.
// Slots are numbered from zero so a restarted process reuses the lists of the one before it.
func (t *RedisTransport) claimProcessingList(channel string, group string) (string, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := channel + "/" + group
	taken := t.slots[id]
	if taken == nil {
		taken = map[int]bool{}
		t.slots[id] = taken
	}
	slot := 0
	for taken[slot] {
		slot++
	}
	taken[slot] = true
	release := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(taken, slot)
	}
	return fmt.Sprintf("%s:processing:%s:%d", t.key(channel), group, slot), release
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(&redisEnvelope{
		Id:          util.NewULID(),
		Attributes:  msg.Attributes,
		Body:        msg.Body,
		PublishTime: time.Now(),
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(t.db.LPush(t.key(channel), data).Err())
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, group string, handler Handler) error {
	key := t.key(channel)
	processing, release := t.claimProcessingList(channel, group)
	defer release()
	logger := log.WithFields(log.Fields{"channel": channel, "group": group, "processingList": processing})
	t.requeueUnfinished(logger, processing, key)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, err := t.db.RPopLPush(key, processing).Bytes()
		if err == redis.Nil {
			t.wait(ctx)
			continue
		}
		if err != nil {
			logging.WithStacktrace(logger, err).Warn("redis pop failed")
			t.wait(ctx)
			continue
		}

		envelope := &redisEnvelope{}
		if err := json.Unmarshal(data, envelope); err != nil {
			logger.WithError(err).Error("dropping undecodable message")
			t.ack(logger, processing, data)
			continue
		}
		msg := &Message{
			Id:          envelope.Id,
			Channel:     channel,
			Attributes:  envelope.Attributes,
			Body:        envelope.Body,
			PublishTime: envelope.PublishTime,
		}
		if msg.Attributes == nil {
			msg.Attributes = map[string]string{}
		}
		if err := handler(ctx, msg); err != nil {
			logger.WithError(err).Warnf("handler failed for message %s; requeueing", msg.Id)
			if err := t.db.RPopLPush(processing, key).Err(); err != nil {
				logging.WithStacktrace(logger, err).Errorf("requeueing message %s failed", msg.Id)
			}
			continue
		}
		t.ack(logger, processing, data)
	}
}

// requeueUnfinished moves messages left on a processing list by a consumer that died back onto the channel.
func (t *RedisTransport) requeueUnfinished(logger *log.Entry, processing string, key string) {
	for {
		err := t.db.RPopLPush(processing, key).Err()
		if err == redis.Nil {
			return
		}
		if err != nil {
			logging.WithStacktrace(logger, err).Warn("recovering unfinished messages failed")
			return
		}
		logger.Warn("requeued a message left unfinished by a previous consumer")
	}
}

func (t *RedisTransport) ack(logger *log.Entry, processing string, data []byte) {
	if err := t.db.LRem(processing, 1, data).Err(); err != nil {
		logging.WithStacktrace(logger, err).Error("removing handled message from processing list failed")
	}
}

func (t *RedisTransport) wait(ctx context.Context) {
	select {
	case <-time.After(t.config.PollInterval):
	case <-ctx.Done():
	}
}

func (t *RedisTransport) Check() error {
	return errors.WithStack(t.db.Ping().Err())
}

func (t *RedisTransport) Close() error {
	return errors.WithStack(t.db.Close())
}
