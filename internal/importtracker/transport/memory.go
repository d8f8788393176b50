package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/util"
)

const DefaultMemoryBufferSize = 1024

// MemoryTransport is an in-process broker. Each channel is a buffered queue shared by all of its
// subscribers regardless of group, so every message reaches exactly one handler.
// Messages whose handler fails are put back on the queue.
// Dead-letter channels usually have no subscriber, so once full they drop their oldest message.
type MemoryTransport struct {
	bufferSize int
	mu         sync.Mutex
	channels   map[string]chan *Message
	closed     bool
	done       chan struct{}
}

func NewMemoryTransport(bufferSize int) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = DefaultMemoryBufferSize
	}
	return &MemoryTransport{
		bufferSize: bufferSize,
		channels:   map[string]chan *Message{},
		done:       make(chan struct{}),
	}
}

func (t *MemoryTransport) queue(channel string) (chan *Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.Errorf("memory transport closed")
	}
	q, ok := t.channels[channel]
	if !ok {
		q = make(chan *Message, t.bufferSize)
		t.channels[channel] = q
	}
	return q, nil
}

// Publish enqueues a copy of msg, blocking while the channel buffer is full.
// Publishing to a full dead-letter channel never blocks.
func (t *MemoryTransport) Publish(ctx context.Context, channel string, msg *Message) error {
	q, err := t.queue(channel)
	if err != nil {
		return err
	}
	out := msg.Copy()
	out.Id = util.NewULID()
	out.Channel = channel
	out.PublishTime = time.Now()
	if IsDeadLetterChannel(channel) {
		publishDroppingOldest(q, out)
		return nil
	}
	select {
	case q <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return errors.Errorf("memory transport closed")
	}
}

func publishDroppingOldest(q chan *Message, msg *Message) {
	for {
		select {
		case q <- msg:
			return
		default:
		}
		select {
		case dropped := <-q:
			log.WithFields(log.Fields{"channel": msg.Channel, "messageId": dropped.Id}).
				Warn("dead-letter buffer full; dropping oldest message")
		default:
		}
	}
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string, group string, handler Handler) error {
	q, err := t.queue(channel)
	if err != nil {
		return err
	}
	logger := log.WithFields(log.Fields{"channel": channel, "group": group})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case msg := <-q:
			if err := handler(ctx, msg.Copy()); err != nil {
				logger.WithError(err).Warnf("handler failed for message %s; requeueing", msg.Id)
				select {
				case q <- msg:
				case <-ctx.Done():
					return nil
				case <-t.done:
					return nil
				}
			}
		}
	}
}

// Len is the number of messages waiting on channel.
func (t *MemoryTransport) Len(channel string) int {
	q, err := t.queue(channel)
	if err != nil {
		return 0
	}
	return len(q)
}

func (t *MemoryTransport) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Errorf("memory transport closed")
	}
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
