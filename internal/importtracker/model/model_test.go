package model

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
)

var baseTime = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

func TestResultFor(t *testing.T) {
	staleness := 30 * time.Second
	tests := map[string]struct {
		job      *Job
		age      time.Duration
		expected ResultCode
	}{
		"absent": {
			job:      nil,
			expected: NotFound,
		},
		"ready": {
			job:      &Job{State: Ready},
			expected: Done,
		},
		"ready long ago": {
			job:      &Job{State: Ready},
			age:      time.Hour,
			expected: Done,
		},
		"processing fresh": {
			job:      &Job{State: Processing},
			age:      time.Second,
			expected: InProgress,
		},
		"processing exactly at threshold": {
			job:      &Job{State: Processing},
			age:      30 * time.Second,
			expected: InProgress,
		},
		"processing stale": {
			job:      &Job{State: Processing},
			age:      31 * time.Second,
			expected: Done,
		},
		"preprocessing": {
			job:      &Job{State: Preprocessing},
			age:      time.Hour,
			expected: Conflict,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if tc.job != nil {
				tc.job.Timestamp = baseTime
			}
			result, err := ResultFor(tc.job, baseTime.Add(tc.age), staleness)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestResultFor_UnknownState(t *testing.T) {
	result, err := ResultFor(&Job{Token: "abc", State: JobState(7), Timestamp: baseTime}, baseTime, time.Second)
	assert.Equal(t, NotFound, result)
	var unknown *ErrUnknownState
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "abc", unknown.Token)
}

func TestResultCode_HttpLikeCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, Accepted.HttpLikeCode())
	assert.Equal(t, http.StatusConflict, Conflict.HttpLikeCode())
	assert.Equal(t, http.StatusNotAcceptable, UnsupportedSubsystem.HttpLikeCode())
	assert.Equal(t, http.StatusOK, Done.HttpLikeCode())
	assert.Equal(t, 102, InProgress.HttpLikeCode())
	assert.Equal(t, http.StatusNoContent, NotFound.HttpLikeCode())
	assert.Equal(t, "InProgress", InProgress.String())
	assert.Equal(t, "ResultCode(42)", ResultCode(42).String())
}

func TestParseJobState(t *testing.T) {
	for _, valid := range []struct {
		in  string
		out JobState
	}{{"1", Preprocessing}, {"2", Processing}, {"3", Ready}} {
		state, err := ParseJobState(valid.in)
		require.NoError(t, err)
		assert.Equal(t, valid.out, state)
	}
	for _, invalid := range []string{"", "0", "4", "ready", "-1"} {
		_, err := ParseJobState(invalid)
		if assert.Error(t, err, invalid) {
			assert.Contains(t, err.Error(), "invalid job state")
		}
	}
}

func TestJobAttributes_RoundTrip(t *testing.T) {
	job := &Job{
		Token:       "6f0b1c6a-8d32-4a53-9c1e-6ff8a1b7e1c2",
		Target:      "http://uri.suomi.fi/terminology/test",
		Subsystem:   "Terminology",
		SubmitterId: "00000000-0000-0000-0000-000000000000",
		State:       Processing,
		Timestamp:   baseTime.Add(123 * time.Millisecond),
	}
	attributes := job.Attributes()
	assert.Equal(t, job.Token, attributes[AttributeCorrelationId])
	assert.Equal(t, "2", attributes[AttributeState])

	decoded, err := JobFromAttributes(attributes, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, job.Token, decoded.Token)
	assert.Equal(t, job.Target, decoded.Target)
	assert.Equal(t, job.Subsystem, decoded.Subsystem)
	assert.Equal(t, job.SubmitterId, decoded.SubmitterId)
	assert.Equal(t, job.State, decoded.State)
	assert.True(t, job.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, []byte("body"), decoded.Payload)
}

func TestJobFromAttributes_Invalid(t *testing.T) {
	valid := (&Job{Token: "t", Target: "x", State: Ready, Timestamp: baseTime}).Attributes()
	tests := map[string]func(map[string]string){
		"missing token":     func(a map[string]string) { delete(a, AttributeToken) },
		"missing target":    func(a map[string]string) { a[AttributeTarget] = "" },
		"bad state":         func(a map[string]string) { a[AttributeState] = "9" },
		"missing timestamp": func(a map[string]string) { delete(a, AttributeTimestamp) },
		"bad timestamp":     func(a map[string]string) { a[AttributeTimestamp] = "yesterday" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			attributes := make(map[string]string, len(valid))
			for k, v := range valid {
				attributes[k] = v
			}
			mutate(attributes)
			_, err := JobFromAttributes(attributes, nil)
			var invalid *trackererrors.ErrInvalidArgument
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestJob_Copy(t *testing.T) {
	job := &Job{Token: "t", Payload: []byte("abc")}
	c := job.Copy()
	c.Payload[0] = 'x'
	assert.Equal(t, []byte("abc"), job.Payload)
	assert.Nil(t, (*Job)(nil).Copy())
}
