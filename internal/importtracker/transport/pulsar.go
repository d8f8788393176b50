package transport

import (
	"context"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

type PulsarConfig struct {
	URL string
	// Prepended to channel names to form topics, e.g. "persistent://public/default/".
	TopicPrefix string
	// Wait at most this long for a message before checking whether to stop.
	ReceiveTimeout time.Duration
	// Back off this long after a failed receive.
	BackoffTime time.Duration
}

// PulsarTransport maps each channel onto a topic. Attributes become message properties and the
// job token is used as the message key, so a Key_Shared subscription keeps each token's updates
// on one consumer.
type PulsarTransport struct {
	client    pulsar.Client
	config    PulsarConfig
	mu        sync.Mutex
	producers map[string]pulsar.Producer
	closed    bool
}

func NewPulsarClient(config PulsarConfig) (pulsar.Client, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: config.URL,
	})
	return client, errors.WithStack(err)
}

const (
	defaultPulsarReceiveTimeout = 5 * time.Second
	defaultPulsarBackoffTime    = time.Second
)

func NewPulsarTransport(client pulsar.Client, config PulsarConfig) *PulsarTransport {
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = defaultPulsarReceiveTimeout
	}
	if config.BackoffTime <= 0 {
		config.BackoffTime = defaultPulsarBackoffTime
	}
	return &PulsarTransport{
		client:    client,
		config:    config,
		producers: map[string]pulsar.Producer{},
	}
}

func (t *PulsarTransport) topic(channel string) string {
	return t.config.TopicPrefix + channel
}

func (t *PulsarTransport) producer(channel string) (pulsar.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.Errorf("pulsar transport closed")
	}
	if producer, ok := t.producers[channel]; ok {
		return producer, nil
	}
	producer, err := t.client.CreateProducer(pulsar.ProducerOptions{
		Topic: t.topic(channel),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	t.producers[channel] = producer
	return producer, nil
}

func (t *PulsarTransport) Publish(ctx context.Context, channel string, msg *Message) error {
	producer, err := t.producer(channel)
	if err != nil {
		return err
	}
	out := msg.Copy()
	out.Id = util.NewULID()
	_, err = producer.Send(ctx, &pulsar.ProducerMessage{
		Payload:    out.Body,
		Key:        out.Attributes[model.AttributeToken],
		Properties: withMessageId(out),
	})
	return errors.WithStack(err)
}

func (t *PulsarTransport) Subscribe(ctx context.Context, channel string, group string, handler Handler) error {
	consumer, err := t.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            t.topic(channel),
		SubscriptionName: group,
		Type:             pulsar.KeyShared,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer consumer.Close()

	logger := log.WithFields(log.Fields{"channel": channel, "group": group})
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down pulsar receiver")
			return nil
		default:
		}

		receiveCtx, cancel := context.WithTimeout(ctx, t.config.ReceiveTimeout)
		pulsarMsg, err := consumer.Receive(receiveCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			continue
		}
		if err != nil {
			logging.WithStacktrace(logger, err).Warnf("Pulsar receive failed; backing off for %s", t.config.BackoffTime)
			select {
			case <-time.After(t.config.BackoffTime):
			case <-ctx.Done():
			}
			continue
		}

		msg := fromPulsarMessage(channel, pulsarMsg)
		if err := handler(ctx, msg); err != nil {
			logger.WithError(err).Warnf("handler failed for message %s; nacking", msg.Id)
			consumer.Nack(pulsarMsg)
			continue
		}
		consumer.Ack(pulsarMsg)
	}
}

func fromPulsarMessage(channel string, pulsarMsg pulsar.Message) *Message {
	id, attributes := splitAttributes(pulsarMsg.Properties())
	return &Message{
		Id:          id,
		Channel:     channel,
		Attributes:  attributes,
		Body:        pulsarMsg.Payload(),
		PublishTime: pulsarMsg.PublishTime(),
	}
}

func (t *PulsarTransport) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Errorf("pulsar transport closed")
	}
	return nil
}

func (t *PulsarTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, producer := range t.producers {
		producer.Close()
	}
	t.client.Close()
	return nil
}
