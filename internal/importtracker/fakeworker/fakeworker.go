// Package fakeworker stands in for a real subsystem worker in local runs and tests.
package fakeworker

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/statusupdates"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

// Worker takes imports off the processing channel, waits Delay and reports them Ready with a
// payload describing the request.
type Worker struct {
	reporter *statusupdates.Reporter
	delay    time.Duration
}

func New(reporter *statusupdates.Reporter, delay time.Duration) *Worker {
	return &Worker{reporter: reporter, delay: delay}
}

func (w *Worker) Handle(ctx context.Context, msg *transport.Message) error {
	job, err := statusupdates.JobFromRequest(msg)
	if err != nil {
		return err
	}
	logger := log.WithFields(log.Fields{"token": job.Token, "target": job.Target})
	logger.Info("fake worker picked up import")

	select {
	case <-time.After(w.delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := w.reporter.SetStatus(ctx, job, model.Ready, Result(job)); err != nil {
		return err
	}
	logger.Info("fake worker finished import")
	return nil
}

// Result is the payload reported for job.
func Result(job *model.Job) []byte {
	return []byte(fmt.Sprintf("Imported %s (%d bytes)", job.Target, len(job.Payload)))
}
