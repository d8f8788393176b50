package server

import (
	"time"

	"github.com/armadaproject/importtracker/internal/common/util"
	"github.com/armadaproject/importtracker/internal/importtracker/configuration"
	"github.com/armadaproject/importtracker/internal/importtracker/identity"
	"github.com/armadaproject/importtracker/internal/importtracker/metrics"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/repository"
	"github.com/armadaproject/importtracker/internal/importtracker/transport"
)

// ImportTracker admits imports, records their status updates and answers status queries.
type ImportTracker struct {
	config    *configuration.ImportTrackerConfiguration
	supported map[string]bool
	index     *repository.StatusIndex
	ledger    *repository.AdmissionLedger
	publisher transport.Publisher
	users     identity.UserProvider
	clock     util.Clock
	metrics   *metrics.Metrics
}

func NewImportTracker(
	config *configuration.ImportTrackerConfiguration,
	index *repository.StatusIndex,
	ledger *repository.AdmissionLedger,
	publisher transport.Publisher,
	users identity.UserProvider,
	clock util.Clock,
	m *metrics.Metrics,
) *ImportTracker {
	supported := make(map[string]bool, len(config.SupportedSubsystems))
	for _, subsystem := range config.SupportedSubsystems {
		supported[subsystem] = true
	}
	return &ImportTracker{
		config:    config,
		supported: supported,
		index:     index,
		ledger:    ledger,
		publisher: publisher,
		users:     users,
		clock:     clock,
		metrics:   m,
	}
}

func (s *ImportTracker) now() time.Time {
	return model.TruncateMillis(s.clock.Now())
}

// IsRunning reports whether an import of target is admitted or in progress.
func (s *ImportTracker) IsRunning(target string) bool {
	return s.index.IsRunning(target) || s.ledger.HasTarget(target)
}

func (s *ImportTracker) IndexSize() (tokens int, targets int) {
	return s.index.Len()
}

func (s *ImportTracker) PendingAdmissions() int {
	return s.ledger.Len()
}
