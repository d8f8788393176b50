package repository

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

// AdmissionLedger holds jobs that have been admitted but whose first status update has not yet
// been applied to the StatusIndex. A reservation blocks further admissions for its target and
// answers status queries for its token until it is released or expires.
type AdmissionLedger struct {
	// Serialises check-then-delete on release against new reservations.
	mu      sync.Mutex
	targets *cache.Cache
	tokens  *cache.Cache
}

// NewAdmissionLedger creates a ledger whose reservations expire after ttl.
// Expired reservations are purged every cleanupInterval.
func NewAdmissionLedger(ttl time.Duration, cleanupInterval time.Duration) *AdmissionLedger {
	return &AdmissionLedger{
		targets: cache.New(ttl, cleanupInterval),
		tokens:  cache.New(ttl, cleanupInterval),
	}
}

// Reservation is the outcome of AdmissionLedger.Reserve.
type Reservation int

const (
	Reserved Reservation = iota
	TargetTaken
	TokenTaken
)

// Reserve records job against its target and token. tokenInUse reports whether the token is
// already tracked elsewhere, e.g. in the StatusIndex; it is consulted before the ledger's own
// tokens, so a token moving from the ledger to the index is seen in one place or the other.
// Nothing is recorded unless the result is Reserved.
func (ledger *AdmissionLedger) Reserve(job *model.Job, tokenInUse func(token string) bool) Reservation {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if tokenInUse != nil && tokenInUse(job.Token) {
		return TokenTaken
	}
	reserved := job.Copy()
	if err := ledger.tokens.Add(reserved.Token, reserved, cache.DefaultExpiration); err != nil {
		return TokenTaken
	}
	if err := ledger.targets.Add(reserved.Target, reserved, cache.DefaultExpiration); err != nil {
		ledger.tokens.Delete(reserved.Token)
		return TargetTaken
	}
	return Reserved
}

// Get returns a copy of the reservation for token, or nil.
func (ledger *AdmissionLedger) Get(token string) *model.Job {
	if item, ok := ledger.tokens.Get(token); ok {
		return item.(*model.Job).Copy()
	}
	return nil
}

// HasTarget reports whether target carries an unexpired reservation.
func (ledger *AdmissionLedger) HasTarget(target string) bool {
	_, ok := ledger.targets.Get(target)
	return ok
}

// Release drops the reservation made under token, if any, and reports whether one existed.
func (ledger *AdmissionLedger) Release(token string) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	item, ok := ledger.tokens.Get(token)
	if !ok {
		return false
	}
	ledger.tokens.Delete(token)
	job := item.(*model.Job)
	if owner, ok := ledger.targets.Get(job.Target); ok && owner.(*model.Job).Token == token {
		ledger.targets.Delete(job.Target)
	}
	return true
}

// ReleaseTarget drops whatever reservation is held on target.
func (ledger *AdmissionLedger) ReleaseTarget(target string) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	item, ok := ledger.targets.Get(target)
	if !ok {
		return false
	}
	ledger.targets.Delete(target)
	ledger.tokens.Delete(item.(*model.Job).Token)
	return true
}

// Stranded returns reservations made before cutoff, oldest first.
func (ledger *AdmissionLedger) Stranded(cutoff time.Time) []*model.Job {
	var jobs []*model.Job
	for _, item := range ledger.tokens.Items() {
		job := item.Object.(*model.Job)
		if job.Timestamp.Before(cutoff) {
			jobs = append(jobs, job.Copy())
		}
	}
	sortByTimestamp(jobs)
	return jobs
}

func (ledger *AdmissionLedger) Len() int {
	return ledger.tokens.ItemCount()
}

// DeleteExpired purges expired reservations immediately rather than waiting for the janitor.
func (ledger *AdmissionLedger) DeleteExpired() {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.targets.DeleteExpired()
	ledger.tokens.DeleteExpired()
}
