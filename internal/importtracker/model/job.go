package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// JobState is the lifecycle state of an import job as carried on the wire.
type JobState int

const (
	Preprocessing JobState = 1
	Processing    JobState = 2
	Ready         JobState = 3
)

func (s JobState) String() string {
	switch s {
	case Preprocessing:
		return "Preprocessing"
	case Processing:
		return "Processing"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	return s >= Preprocessing && s <= Ready
}

// InFlight is true while a worker may still be producing a result.
func (s JobState) InFlight() bool {
	return s == Preprocessing || s == Processing
}

// ParseJobState parses the wire representation ("1", "2" or "3").
func ParseJobState(value string) (JobState, error) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid job state %q", value)
	}
	state := JobState(i)
	if !state.Valid() {
		return 0, errors.Errorf("invalid job state %q", value)
	}
	return state, nil
}

// Job is the tracked state of one import.
type Job struct {
	Token       string
	Target      string
	Subsystem   string
	SubmitterId string
	State       JobState
	// Time of the last state transition, millisecond precision.
	Timestamp time.Time
	Payload   []byte
}

// Copy returns a deep copy, so callers can read a job without holding any index lock.
func (job *Job) Copy() *Job {
	if job == nil {
		return nil
	}
	c := *job
	if job.Payload != nil {
		c.Payload = make([]byte, len(job.Payload))
		copy(c.Payload, job.Payload)
	}
	return &c
}

// TruncateMillis drops sub-millisecond precision, matching what survives a round trip on the wire.
func TruncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
