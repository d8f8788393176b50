package model

import (
	"fmt"
	"net/http"
	"time"
)

// ResultCode is what callers of the tracker see. It is distinct from JobState.
type ResultCode int

const (
	Accepted ResultCode = iota
	Conflict
	UnsupportedSubsystem
	Done
	InProgress
	NotFound
)

var resultCodeNames = map[ResultCode]string{
	Accepted:             "Accepted",
	Conflict:             "Conflict",
	UnsupportedSubsystem: "UnsupportedSubsystem",
	Done:                 "Done",
	InProgress:           "InProgress",
	NotFound:             "NotFound",
}

func (r ResultCode) String() string {
	if name, ok := resultCodeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ResultCode(%d)", int(r))
}

// HttpLikeCode returns the HTTP-style number historically reported alongside each result.
func (r ResultCode) HttpLikeCode() int {
	switch r {
	case Accepted, Done:
		return http.StatusOK
	case Conflict:
		return http.StatusConflict
	case UnsupportedSubsystem:
		return http.StatusNotAcceptable
	case InProgress:
		return http.StatusProcessing
	case NotFound:
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}

// ErrUnknownState means the index held a job whose state is outside the known set.
type ErrUnknownState struct {
	Token string
	State JobState
}

func (err *ErrUnknownState) Error() string {
	return fmt.Sprintf("job %q has unknown state %s", err.Token, err.State)
}

// ResultFor maps a tracked job onto the result reported to callers.
//
// A nil job is NotFound. Processing jobs that have not been updated for longer than
// staleness are reported Done, since the worker is assumed to have finished without
// reporting. Unknown states yield NotFound together with an *ErrUnknownState so the
// caller can log them.
func ResultFor(job *Job, now time.Time, staleness time.Duration) (ResultCode, error) {
	if job == nil {
		return NotFound, nil
	}
	switch job.State {
	case Ready:
		return Done, nil
	case Processing:
		if now.Sub(job.Timestamp) > staleness {
			return Done, nil
		}
		return InProgress, nil
	case Preprocessing:
		return Conflict, nil
	default:
		return NotFound, &ErrUnknownState{Token: job.Token, State: job.State}
	}
}
