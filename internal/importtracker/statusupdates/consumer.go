package statusupdates

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/armadaproject/importtracker/internal/importtracker/metrics"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

type ConsumerConfig struct {
	Channel           string
	Group             string
	DeadLetterChannel string
	Concurrency       int
	Retry             transport.RetryConfig
}

// RunConsumers subscribes Concurrency copies of handler to the channel and blocks until ctx is
// cancelled or a subscription fails. Failing messages are retried and then dead-lettered.
func RunConsumers(
	ctx context.Context,
	subscriber transport.Subscriber,
	publisher transport.Publisher,
	config ConsumerConfig,
	handler transport.Handler,
	m *metrics.Metrics,
) error {
	timed := func(ctx context.Context, msg *transport.Message) error {
		start := time.Now()
		defer func() { m.ObserveHandler(config.Channel, time.Since(start).Seconds()) }()
		return handler(ctx, msg)
	}
	wrapped := transport.WithDeadLetter(timed, publisher, config.DeadLetterChannel, config.Retry)

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	log.WithFields(log.Fields{"channel": config.Channel, "group": config.Group}).
		Infof("starting %d consumers", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			return subscriber.Subscribe(ctx, config.Channel, config.Group, wrapped)
		})
	}
	return g.Wait()
}
