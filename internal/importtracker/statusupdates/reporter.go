package statusupdates

import (
	"context"

	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

// Reporter is used by workers to publish the progress of an import they picked up from the
// processing channel.
type Reporter struct {
	publisher transport.Publisher
	clock     util.Clock
}

func NewReporter(publisher transport.Publisher, clock util.Clock) *Reporter {
	return &Reporter{publisher: publisher, clock: clock}
}

// SetStatus publishes state for job, stamped with the current time. payload becomes the body.
func (r *Reporter) SetStatus(ctx context.Context, job *model.Job, state model.JobState, payload []byte) error {
	update := job.Copy()
	update.State = state
	update.Timestamp = model.TruncateMillis(r.clock.Now())
	return r.publisher.Publish(ctx, transport.StatusChannel(job.Subsystem), &transport.Message{
		Attributes: update.Attributes(),
		Body:       payload,
	})
}
