package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

// lookup finds token in the index, or failing that among admissions not yet relayed.
func (s *ImportTracker) lookup(token string) *model.Job {
	if job := s.index.Get(token); job != nil {
		return job
	}
	return s.ledger.Get(token)
}

func (s *ImportTracker) resultFor(job *model.Job) model.ResultCode {
	result, err := model.ResultFor(job, s.clock.Now(), s.config.StalenessThreshold)
	if err != nil {
		s.metrics.RecordCorruptEntry()
		log.WithError(err).WithField("token", job.Token).Error("status index holds a job in an unknown state")
	}
	s.metrics.RecordQuery(result.String())
	return result
}

// GetStatus reports the result for token without its payload.
func (s *ImportTracker) GetStatus(token string) model.ResultCode {
	return s.resultFor(s.lookup(token))
}

// GetStatusWithPayload is GetStatus plus the worker's payload once the job is Ready.
func (s *ImportTracker) GetStatusWithPayload(token string) (model.ResultCode, []byte) {
	job := s.lookup(token)
	result := s.resultFor(job)
	if result == model.Done && job.State == model.Ready {
		return result, job.Payload
	}
	return result, nil
}

// ApplyStatus records a status update received from the status channel. A stale update is
// reported as *trackererrors.ErrStaleUpdate and changes nothing.
func (s *ImportTracker) ApplyStatus(update *model.Job) error {
	takesTarget, err := s.index.Apply(update, s.clock.Now())
	if err != nil {
		return err
	}
	s.ledger.Release(update.Token)

	logger := log.WithFields(log.Fields{"token": update.Token, "target": update.Target, "state": update.State})
	if !takesTarget {
		logger.Info("status recorded for a token that no longer owns its target")
	} else {
		logger.Debug("status recorded")
	}
	return nil
}
