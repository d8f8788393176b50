package server

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/identity"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/repository"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

type SubmitRequest struct {
	Subsystem string
	Target    string
	// Optional. A random UUID is generated when empty.
	Token   string
	Payload []byte
	// Optional extra attributes. They cannot override the tracker's own attributes.
	Attributes map[string]string
}

// Submit admits an import of req.Target and hands it to the subsystem's incoming channel.
// It returns Accepted with the job token, or UnsupportedSubsystem or Conflict with no side effects.
// The result code is meaningless when an error is returned.
func (s *ImportTracker) Submit(ctx context.Context, req *SubmitRequest) (model.ResultCode, string, error) {
	if !s.supported[req.Subsystem] {
		s.metrics.RecordSubmission(req.Subsystem, model.UnsupportedSubsystem.String())
		return model.UnsupportedSubsystem, "", nil
	}
	if req.Target == "" {
		return model.NotFound, "", errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    model.AttributeTarget,
			Value:   req.Target,
			Message: "target must not be empty",
		})
	}
	if s.IsRunning(req.Target) {
		s.metrics.RecordSubmission(req.Subsystem, model.Conflict.String())
		return model.Conflict, "", nil
	}

	token := req.Token
	if token == "" {
		token = util.NewToken()
	}

	job := &model.Job{
		Token:       token,
		Target:      req.Target,
		Subsystem:   req.Subsystem,
		SubmitterId: identity.SubmitterId(ctx, s.users),
		State:       model.Preprocessing,
		Timestamp:   s.now(),
	}
	tokenInUse := func(token string) bool { return s.index.Get(token) != nil }
	switch s.ledger.Reserve(job, tokenInUse) {
	case repository.TokenTaken:
		return model.NotFound, "", errors.WithStack(&trackererrors.ErrAlreadyExists{
			Type:    model.AttributeToken,
			Value:   token,
			Message: "token is already in use",
		})
	case repository.TargetTaken:
		s.metrics.RecordSubmission(req.Subsystem, model.Conflict.String())
		return model.Conflict, "", nil
	}
	// An import relayed since the IsRunning check above is in the index by now, because status
	// updates reach the index before their reservation is released.
	if s.index.IsRunning(req.Target) {
		s.ledger.Release(token)
		s.metrics.RecordSubmission(req.Subsystem, model.Conflict.String())
		return model.Conflict, "", nil
	}

	logger := log.WithFields(log.Fields{"token": token, "target": job.Target, "subsystem": job.Subsystem})
	msg := &transport.Message{
		Attributes: incomingAttributes(job, req.Attributes),
		Body:       req.Payload,
	}
	if err := s.publisher.Publish(ctx, transport.IncomingChannel(job.Subsystem), msg); err != nil {
		s.ledger.Release(token)
		logging.WithStacktrace(logger, err).Error("failed to hand off import")
		return model.NotFound, "", err
	}

	logger.Info("import accepted")
	s.metrics.RecordSubmission(req.Subsystem, model.Accepted.String())
	return model.Accepted, token, nil
}

// The incoming message carries no state; the relay decides when processing starts.
func incomingAttributes(job *model.Job, extra map[string]string) map[string]string {
	attributes := make(map[string]string, len(extra)+5)
	for k, v := range extra {
		attributes[k] = v
	}
	attributes[model.AttributeToken] = job.Token
	attributes[model.AttributeTarget] = job.Target
	attributes[model.AttributeSubsystem] = job.Subsystem
	attributes[model.AttributeSubmitterId] = job.SubmitterId
	attributes[model.AttributeCorrelationId] = job.Token
	return attributes
}
