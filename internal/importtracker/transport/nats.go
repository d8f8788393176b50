package transport

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

type NatsConfig struct {
	Servers []string
	// Prepended to channel names to form subjects, e.g. "importtracker.".
	SubjectPrefix string
	// Messages buffered per subscription before the server starts dropping them.
	BufferSize int
}

// natsMsgIdHeader is the header NATS itself uses for message ids.
const natsMsgIdHeader = "Nats-Msg-Id"

var knownAttributes = []string{
	model.AttributeToken,
	model.AttributeSubmitterId,
	model.AttributeSubsystem,
	model.AttributeTarget,
	model.AttributeState,
	model.AttributeTimestamp,
	model.AttributeCorrelationId,
	DeadLetterReasonAttribute,
	DeadLetterChannelAttribute,
}

// NatsTransport publishes to one subject per channel with attributes as headers.
// Subscriptions use queue groups. Core NATS does not redeliver, so a failed handler loses the
// message unless it has been wrapped with WithDeadLetter.
type NatsTransport struct {
	conn   *nats.Conn
	config NatsConfig
}

func NewNatsTransport(config NatsConfig) (*NatsTransport, error) {
	conn, err := nats.Connect(strings.Join(config.Servers, ","), nats.Name("importtracker"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &NatsTransport{conn: conn, config: config}, nil
}

func (t *NatsTransport) subject(channel string) string {
	return t.config.SubjectPrefix + channel
}

func (t *NatsTransport) Publish(ctx context.Context, channel string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	natsMsg := nats.NewMsg(t.subject(channel))
	for k, v := range msg.Attributes {
		natsMsg.Header[k] = []string{v}
	}
	natsMsg.Header[natsMsgIdHeader] = []string{util.NewULID()}
	natsMsg.Data = msg.Body
	return errors.WithStack(t.conn.PublishMsg(natsMsg))
}

func (t *NatsTransport) Subscribe(ctx context.Context, channel string, group string, handler Handler) error {
	bufferSize := t.config.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultMemoryBufferSize
	}
	messages := make(chan *nats.Msg, bufferSize)
	sub, err := t.conn.ChanQueueSubscribe(t.subject(channel), group, messages)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).Warnf("unsubscribing from %s failed", sub.Subject)
		}
	}()

	logger := log.WithFields(log.Fields{"channel": channel, "group": group})
	for {
		select {
		case <-ctx.Done():
			return nil
		case natsMsg := <-messages:
			msg := fromNatsMessage(channel, natsMsg)
			if err := handler(ctx, msg); err != nil {
				logger.WithError(err).Errorf("handler failed for message %s; message dropped", msg.Id)
			}
		}
	}
}

func fromNatsMessage(channel string, natsMsg *nats.Msg) *Message {
	msg := &Message{
		Channel:    channel,
		Attributes: map[string]string{},
		Body:       natsMsg.Data,
	}
	for k, values := range natsMsg.Header {
		if len(values) == 0 {
			continue
		}
		if strings.EqualFold(k, natsMsgIdHeader) {
			msg.Id = values[0]
			continue
		}
		msg.Attributes[attributeName(k)] = values[0]
	}
	return msg
}

// attributeName undoes any MIME canonicalisation of header keys applied on the way through.
func attributeName(header string) string {
	for _, name := range knownAttributes {
		if strings.EqualFold(name, header) {
			return name
		}
	}
	return header
}

func (t *NatsTransport) Check() error {
	if status := t.conn.Status(); status != nats.CONNECTED {
		return errors.Errorf("nats connection is %v", status)
	}
	return nil
}

func (t *NatsTransport) Close() error {
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return errors.WithStack(err)
	}
	return nil
}
