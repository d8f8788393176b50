package statusupdates

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/metrics"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

// Relay moves admitted imports from a subsystem's incoming channel to its processing channel and
// announces that processing has started on the status channel.
type Relay struct {
	subsystem string
	publisher transport.Publisher
	clock     util.Clock
	metrics   *metrics.Metrics
}

func NewRelay(subsystem string, publisher transport.Publisher, clock util.Clock, m *metrics.Metrics) *Relay {
	return &Relay{
		subsystem: subsystem,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
	}
}

func (r *Relay) Handle(ctx context.Context, msg *transport.Message) error {
	job, err := JobFromRequest(msg)
	if err != nil {
		return err
	}

	forward := &transport.Message{Attributes: msg.Attributes, Body: msg.Body}
	if err := r.publisher.Publish(ctx, transport.ProcessingChannel(r.subsystem), forward); err != nil {
		return err
	}

	job.State = model.Processing
	job.Timestamp = model.TruncateMillis(r.clock.Now())
	status := &transport.Message{
		Attributes: job.Attributes(),
		Body:       []byte("Processing " + job.Target),
	}
	if err := r.publisher.Publish(ctx, transport.StatusChannel(r.subsystem), status); err != nil {
		return err
	}

	r.metrics.RecordRelayed(r.subsystem)
	log.WithFields(log.Fields{"token": job.Token, "target": job.Target}).Debug("import relayed for processing")
	return nil
}

// JobFromRequest decodes an incoming or processing message, which carries no state, into a job.
func JobFromRequest(msg *transport.Message) (*model.Job, error) {
	for _, name := range []string{model.AttributeToken, model.AttributeTarget} {
		if msg.Attributes[name] == "" {
			return nil, errors.WithStack(&trackererrors.ErrInvalidArgument{
				Name:    name,
				Value:   "",
				Message: "required attribute missing",
			})
		}
	}
	return &model.Job{
		Token:       msg.Attributes[model.AttributeToken],
		Target:      msg.Attributes[model.AttributeTarget],
		Subsystem:   msg.Attributes[model.AttributeSubsystem],
		SubmitterId: msg.Attributes[model.AttributeSubmitterId],
		Payload:     msg.Body,
	}, nil
}
