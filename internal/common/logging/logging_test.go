package logging

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithStacktrace(t *testing.T) {
	logger, hook := test.NewNullLogger()

	err := errors.Wrap(errors.New("root cause"), "publishing")
	WithStacktrace(log.NewEntry(logger), err).Error("failed")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, err, entry.Data[log.ErrorKey])
	assert.NotNil(t, entry.Data[Stacktrace])
}

func TestWithStacktrace_PlainError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	WithStacktrace(log.NewEntry(logger), plainError("no stack")).Warn("failed")

	require.Len(t, hook.Entries, 1)
	_, hasStack := hook.LastEntry().Data[Stacktrace]
	assert.False(t, hasStack)
}

func TestConfigure(t *testing.T) {
	tests := map[string]struct {
		config  Config
		level   log.Level
		json    bool
		wantErr bool
	}{
		"defaults":      {config: Config{}, level: log.InfoLevel},
		"debug text":    {config: Config{Level: "debug", Format: "text"}, level: log.DebugLevel},
		"warn json":     {config: Config{Level: "warn", Format: "JSON"}, level: log.WarnLevel, json: true},
		"bad level":     {config: Config{Level: "loud"}, wantErr: true},
		"bad formatter": {config: Config{Format: "xml"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			logger := log.New()
			err := configure(logger, &bytes.Buffer{}, tc.config)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.level, logger.GetLevel())
			_, isJson := logger.Formatter.(*log.JSONFormatter)
			assert.Equal(t, tc.json, isJson)
		})
	}
}

func TestExposeLogMetrics(t *testing.T) {
	require.NoError(t, ExposeLogMetrics())
	before := countLogLines(t, "warning")

	log.Warn("counted")

	assert.Equal(t, before+1, countLogLines(t, "warning"))
	assert.Error(t, ExposeLogMetrics())
}

func countLogLines(t *testing.T, level string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "log_messages" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "level" && label.GetValue() == level {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type plainError string

func (e plainError) Error() string { return string(e) }
