package server

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

// InvalidateToken forgets token. It returns false if nothing was tracked under it.
func (s *ImportTracker) InvalidateToken(token string) bool {
	removed := s.index.RemoveToken(token) != nil
	released := s.ledger.Release(token)
	if removed || released {
		log.WithField("token", token).Info("token invalidated")
	}
	return removed || released
}

// InvalidateTarget forgets the import owning target, allowing a new submission for it.
func (s *ImportTracker) InvalidateTarget(target string) bool {
	removed := s.index.RemoveTarget(target) != nil
	released := s.ledger.ReleaseTarget(target)
	if removed || released {
		log.WithField("target", target).Info("target invalidated")
	}
	return removed || released
}

// Stranded lists jobs that have stayed in Preprocessing for longer than olderThan, oldest first.
func (s *ImportTracker) Stranded(olderThan time.Duration) []*model.Job {
	cutoff := s.clock.Now().Add(-olderThan)
	stranded := s.ledger.Stranded(cutoff)
	for _, job := range s.index.Jobs() {
		if job.State == model.Preprocessing && job.Timestamp.Before(cutoff) {
			stranded = append(stranded, job)
		}
	}
	sort.SliceStable(stranded, func(i, j int) bool {
		return stranded[i].Timestamp.Before(stranded[j].Timestamp)
	})
	return stranded
}

// Evict drops idle index entries and expired admissions.
func (s *ImportTracker) Evict() {
	evicted := s.index.Evict(s.clock.Now(), s.config.IdleTTL)
	s.ledger.DeleteExpired()
	if evicted > 0 {
		s.metrics.RecordEvicted(evicted)
		log.Infof("evicted %d idle jobs from the status index", evicted)
	}
}
