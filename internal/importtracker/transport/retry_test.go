package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
)

var fastRetries = RetryConfig{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

// flakyPublisher fails the first failures publishes and records the rest.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	calls     int
	published map[string][]*Message
}

func (p *flakyPublisher) Publish(_ context.Context, channel string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return fmt.Errorf("broker unavailable")
	}
	if p.published == nil {
		p.published = map[string][]*Message{}
	}
	p.published[channel] = append(p.published[channel], msg.Copy())
	return nil
}

func TestRetryingPublisher(t *testing.T) {
	tests := map[string]struct {
		failures      int
		expectErr     bool
		expectedCalls int
	}{
		"succeeds first time":  {failures: 0, expectedCalls: 1},
		"succeeds after retry": {failures: 2, expectedCalls: 3},
		"exhausted":            {failures: 5, expectErr: true, expectedCalls: 3},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			inner := &flakyPublisher{failures: tc.failures}
			var failed int
			publisher := NewRetryingPublisher(inner, fastRetries).OnFailure(func(string) { failed++ })

			err := publisher.Publish(context.Background(), "TestIncoming", testMessage())
			assert.Equal(t, tc.expectedCalls, inner.calls)
			assert.Equal(t, tc.failures > 0, failed > 0)
			if tc.expectErr {
				var transportErr *trackererrors.ErrTransport
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, "TestIncoming", transportErr.Channel)
				assert.Equal(t, "broker unavailable", transportErr.Cause.Error())
			} else {
				assert.NoError(t, err)
				assert.Len(t, inner.published["TestIncoming"], 1)
			}
		})
	}
}

func TestRetryingPublisher_StopsOnCancel(t *testing.T) {
	inner := &flakyPublisher{failures: 100}
	publisher := NewRetryingPublisher(inner, RetryConfig{Attempts: 100, Delay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := publisher.Publish(ctx, "c", testMessage())
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestWithDeadLetter(t *testing.T) {
	tests := map[string]struct {
		handlerErrors    []error
		expectedCalls    int
		expectDeadLetter bool
	}{
		"success": {
			expectedCalls: 1,
		},
		"transient failure recovers": {
			handlerErrors: []error{fmt.Errorf("a"), fmt.Errorf("b")},
			expectedCalls: 3,
		},
		"persistent failure dead letters": {
			handlerErrors:    []error{fmt.Errorf("a"), fmt.Errorf("b"), fmt.Errorf("c")},
			expectedCalls:    3,
			expectDeadLetter: true,
		},
		"invalid message dead letters without retry": {
			handlerErrors:    []error{errors.WithStack(&trackererrors.ErrInvalidArgument{Name: "state", Value: "9"})},
			expectedCalls:    1,
			expectDeadLetter: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			handler := func(context.Context, *Message) error {
				calls++
				if calls <= len(tc.handlerErrors) {
					return tc.handlerErrors[calls-1]
				}
				return nil
			}
			publisher := &flakyPublisher{}
			msg := testMessage()
			msg.Channel = "TestStatus"

			err := WithDeadLetter(handler, publisher, "TestDeadLetter", fastRetries)(context.Background(), msg)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedCalls, calls)
			if tc.expectDeadLetter {
				require.Len(t, publisher.published["TestDeadLetter"], 1)
				deadLetter := publisher.published["TestDeadLetter"][0]
				assert.Equal(t, "TestStatus", deadLetter.Attributes[DeadLetterChannelAttribute])
				assert.NotEmpty(t, deadLetter.Attributes[DeadLetterReasonAttribute])
				assert.Equal(t, msg.Body, deadLetter.Body)
				assert.NotContains(t, msg.Attributes, DeadLetterReasonAttribute)
			} else {
				assert.Empty(t, publisher.published)
			}
		})
	}
}

func TestWithDeadLetter_DeadLetterPublishFails(t *testing.T) {
	handler := func(context.Context, *Message) error { return fmt.Errorf("handler broken") }
	publisher := &flakyPublisher{failures: 1}

	err := WithDeadLetter(handler, publisher, "TestDeadLetter", RetryConfig{Attempts: 1})(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler broken")
	assert.Contains(t, err.Error(), "broker unavailable")
}
