package statusupdates

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/importtracker/metrics"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

const DefaultDedupCacheSize = 10000

type StatusSink interface {
	ApplyStatus(update *model.Job) error
}

// Updater applies messages from a subsystem's status channel.
// Messages already applied, identified by message id, are skipped.
type Updater struct {
	subsystem string
	sink      StatusSink
	seen      *lru.Cache
	metrics   *metrics.Metrics
}

func NewUpdater(subsystem string, sink StatusSink, dedupCacheSize int, m *metrics.Metrics) (*Updater, error) {
	if dedupCacheSize <= 0 {
		dedupCacheSize = DefaultDedupCacheSize
	}
	seen, err := lru.New(dedupCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Updater{
		subsystem: subsystem,
		sink:      sink,
		seen:      seen,
		metrics:   m,
	}, nil
}

func (u *Updater) Handle(_ context.Context, msg *transport.Message) error {
	if msg.Id != "" && u.seen.Contains(msg.Id) {
		u.metrics.RecordStatusUpdate(u.subsystem, metrics.OutcomeDuplicate)
		log.WithField("messageId", msg.Id).Debug("skipping redelivered status message")
		return nil
	}

	update, err := model.JobFromAttributes(msg.Attributes, msg.Body)
	if err != nil {
		u.metrics.RecordStatusUpdate(u.subsystem, metrics.OutcomeInvalid)
		return err
	}

	err = u.sink.ApplyStatus(update)
	switch {
	case trackererrors.IsStaleUpdate(err):
		u.metrics.RecordStatusUpdate(u.subsystem, metrics.OutcomeStale)
		log.WithField("token", update.Token).WithError(err).Debug("ignoring stale status update")
	case err != nil:
		var invalid *trackererrors.ErrInvalidArgument
		if errors.As(err, &invalid) {
			u.metrics.RecordStatusUpdate(u.subsystem, metrics.OutcomeInvalid)
		}
		return err
	default:
		u.metrics.RecordStatusUpdate(u.subsystem, metrics.OutcomeApplied)
	}

	if msg.Id != "" {
		u.seen.Add(msg.Id, struct{}{})
	}
	return nil
}
