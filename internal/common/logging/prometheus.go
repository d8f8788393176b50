package logging

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// ExposeLogMetrics counts log lines of the standard logger by level in the log_messages counter
// of the default prometheus registry. It fails if called more than once per process.
func ExposeLogMetrics() error {
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		return errors.WithStack(err)
	}
	log.AddHook(hook)
	return nil
}
