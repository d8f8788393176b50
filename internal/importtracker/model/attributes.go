package model

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
)

// Attribute names used on every channel.
const (
	AttributeToken         = "token"
	AttributeSubmitterId   = "submitterId"
	AttributeSubsystem     = "subsystem"
	AttributeTarget        = "target"
	AttributeState         = "state"
	AttributeTimestamp     = "timestamp"
	AttributeCorrelationId = "correlationId"
)

// Attributes renders the job as message attributes. The payload travels as the message body.
func (job *Job) Attributes() map[string]string {
	return map[string]string{
		AttributeToken:         job.Token,
		AttributeSubmitterId:   job.SubmitterId,
		AttributeSubsystem:     job.Subsystem,
		AttributeTarget:        job.Target,
		AttributeState:         strconv.Itoa(int(job.State)),
		AttributeTimestamp:     strconv.FormatInt(job.Timestamp.UnixMilli(), 10),
		AttributeCorrelationId: job.Token,
	}
}

// JobFromAttributes decodes a status message. Token, target, state and timestamp are required.
func JobFromAttributes(attributes map[string]string, body []byte) (*Job, error) {
	for _, name := range []string{AttributeToken, AttributeTarget, AttributeState, AttributeTimestamp} {
		if attributes[name] == "" {
			return nil, errors.WithStack(&trackererrors.ErrInvalidArgument{
				Name:    name,
				Value:   "",
				Message: "required attribute missing",
			})
		}
	}
	state, err := ParseJobState(attributes[AttributeState])
	if err != nil {
		return nil, errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    AttributeState,
			Value:   attributes[AttributeState],
			Message: err.Error(),
		})
	}
	millis, err := strconv.ParseInt(attributes[AttributeTimestamp], 10, 64)
	if err != nil {
		return nil, errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    AttributeTimestamp,
			Value:   attributes[AttributeTimestamp],
			Message: "expected epoch milliseconds",
		})
	}
	return &Job{
		Token:       attributes[AttributeToken],
		Target:      attributes[AttributeTarget],
		Subsystem:   attributes[AttributeSubsystem],
		SubmitterId: attributes[AttributeSubmitterId],
		State:       state,
		Timestamp:   time.UnixMilli(millis),
		Payload:     body,
	}, nil
}
