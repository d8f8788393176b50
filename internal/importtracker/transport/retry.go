package transport

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/trackererrors"
)

// Attributes added to messages routed to a dead letter channel.
const (
	DeadLetterReasonAttribute  = "deadLetterReason"
	DeadLetterChannelAttribute = "originalChannel"
)

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (c RetryConfig) options(ctx context.Context, onRetry retry.OnRetryFunc) []retry.Option {
	return []retry.Option{
		retry.Attempts(c.Attempts),
		retry.Delay(c.Delay),
		retry.MaxDelay(c.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.OnRetry(onRetry),
	}
}

// Invalid messages will never succeed, so they are not retried.
func isRetryable(err error) bool {
	var invalid *trackererrors.ErrInvalidArgument
	return !errors.As(err, &invalid)
}

// RetryingPublisher retries failed publishes with exponential backoff. Once attempts are
// exhausted it returns an *trackererrors.ErrTransport.
type RetryingPublisher struct {
	publisher Publisher
	config    RetryConfig
	onFailure func(channel string)
}

func NewRetryingPublisher(publisher Publisher, config RetryConfig) *RetryingPublisher {
	return &RetryingPublisher{publisher: publisher, config: config}
}

// OnFailure registers a callback invoked for every failed attempt, e.g. to count them.
func (p *RetryingPublisher) OnFailure(f func(channel string)) *RetryingPublisher {
	p.onFailure = f
	return p
}

func (p *RetryingPublisher) Publish(ctx context.Context, channel string, msg *Message) error {
	var attemptErr error
	err := retry.Do(
		func() error {
			attemptErr = p.publisher.Publish(ctx, channel, msg)
			if attemptErr != nil && p.onFailure != nil {
				p.onFailure(channel)
			}
			return attemptErr
		},
		p.config.options(ctx, func(n uint, err error) {
			log.WithField("channel", channel).WithError(err).Warnf("publish attempt %d failed; retrying", n+1)
		})...,
	)
	if err == nil {
		return nil
	}
	if attemptErr != nil {
		err = attemptErr
	}
	return errors.WithStack(&trackererrors.ErrTransport{Channel: channel, Op: "publish", Cause: err})
}

// WithDeadLetter retries handler with the given config. A message that still fails, or is invalid,
// is published to deadLetterChannel and acknowledged. If dead-lettering fails too, both errors
// are returned so the transport redelivers.
func WithDeadLetter(handler Handler, publisher Publisher, deadLetterChannel string, config RetryConfig) Handler {
	return func(ctx context.Context, msg *Message) error {
		err := retry.Do(
			func() error { return handler(ctx, msg) },
			config.options(ctx, func(n uint, err error) {
				log.WithFields(log.Fields{"channel": msg.Channel, "messageId": msg.Id}).
					WithError(err).Debugf("handler attempt %d failed; retrying", n+1)
			})...,
		)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Shutting down; leave the message for redelivery.
			return err
		}
		logging.WithStacktrace(log.WithFields(log.Fields{"channel": msg.Channel, "messageId": msg.Id}), err).
			Errorf("giving up on message; sending to %s", deadLetterChannel)

		deadLetter := msg.Copy()
		deadLetter.Attributes[DeadLetterReasonAttribute] = err.Error()
		deadLetter.Attributes[DeadLetterChannelAttribute] = msg.Channel
		if publishErr := publisher.Publish(ctx, deadLetterChannel, deadLetter); publishErr != nil {
			return multierror.Append(err, publishErr)
		}
		return nil
	}
}
