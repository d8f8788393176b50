// Package transport moves messages between the tracker and its workers over named channels.
//
// Delivery is at-least-once: a handler returning nil acknowledges the message, an error asks the
// transport to deliver it again where the underlying system supports that. Several subscriptions
// to the same channel and group compete for messages.
package transport

import (
	"context"
	"time"
)

// Message is a transport-neutral message. Attributes travel as message properties or headers and
// Body is opaque.
type Message struct {
	Id          string
	Channel     string
	Attributes  map[string]string
	Body        []byte
	PublishTime time.Time
}

// Copy returns a message that shares nothing mutable with m.
func (m *Message) Copy() *Message {
	c := *m
	c.Attributes = make(map[string]string, len(m.Attributes))
	for k, v := range m.Attributes {
		c.Attributes[k] = v
	}
	if m.Body != nil {
		c.Body = make([]byte, len(m.Body))
		copy(c.Body, m.Body)
	}
	return &c
}

type Handler func(ctx context.Context, msg *Message) error

type Publisher interface {
	Publish(ctx context.Context, channel string, msg *Message) error
}

type Subscriber interface {
	// Subscribe delivers messages from channel to handler until ctx is cancelled,
	// then returns nil. Any other return is a fatal subscription failure.
	Subscribe(ctx context.Context, channel string, group string, handler Handler) error
}

// Transport is implemented by every adapter.
type Transport interface {
	Publisher
	Subscriber
	Check() error
	Close() error
}

// messageIdAttribute carries the tracker-assigned message id on transports without a usable native id.
const messageIdAttribute = "_messageId"

// splitAttributes separates the message id from the user attributes of a received message.
func splitAttributes(properties map[string]string) (id string, attributes map[string]string) {
	attributes = make(map[string]string, len(properties))
	for k, v := range properties {
		if k == messageIdAttribute {
			id = v
			continue
		}
		attributes[k] = v
	}
	return id, attributes
}

// withMessageId returns the attributes to put on the wire for msg.
func withMessageId(msg *Message) map[string]string {
	properties := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		properties[k] = v
	}
	properties[messageIdAttribute] = msg.Id
	return properties
}
