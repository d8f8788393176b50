package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
)

const DefaultStripes = 64

// entry is stored under both the token key and the target key.
type entry struct {
	job      *model.Job
	lastSeen time.Time
}

type stripe struct {
	mu       sync.RWMutex
	byToken  map[string]*entry
	byTarget map[string]*entry
}

// StatusIndex is the in-memory view of every tracked job, addressable by token and by target.
//
// Keys are spread over a fixed number of stripes, each with its own lock. An update locks the
// stripe of its token and the stripe of its target (in ascending order) and stores a single
// entry under both keys, so readers never see the two keys disagree.
// Every entry reachable by target is also reachable by its token.
type StatusIndex struct {
	stripes []*stripe
}

func NewStatusIndex(stripes int) *StatusIndex {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	index := &StatusIndex{stripes: make([]*stripe, stripes)}
	for i := range index.stripes {
		index.stripes[i] = &stripe{
			byToken:  map[string]*entry{},
			byTarget: map[string]*entry{},
		}
	}
	return index
}

func (index *StatusIndex) stripeFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(index.stripes)))
}

// lockPair write-locks the stripes of a token and a target and returns the unlock func.
func (index *StatusIndex) lockPair(token, target string) (tokenStripe, targetStripe *stripe, unlock func()) {
	i, j := index.stripeFor(token), index.stripeFor(target)
	tokenStripe, targetStripe = index.stripes[i], index.stripes[j]
	if i == j {
		tokenStripe.mu.Lock()
		return tokenStripe, targetStripe, tokenStripe.mu.Unlock
	}
	first, second := tokenStripe, targetStripe
	if j < i {
		first, second = targetStripe, tokenStripe
	}
	first.mu.Lock()
	second.mu.Lock()
	return tokenStripe, targetStripe, func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Apply records a status update observed at now.
//
// An update older than what is stored for the token is rejected with *trackererrors.ErrStaleUpdate,
// as is an update carrying the same timestamp but an earlier state. The target key moves to the
// update's token unless the target is held by another token with a newer timestamp, in which
// case only the token key is written and takesTarget is false.
func (index *StatusIndex) Apply(update *model.Job, now time.Time) (takesTarget bool, err error) {
	if update.Token == "" || update.Target == "" {
		return false, errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    "update",
			Value:   update.Token + "/" + update.Target,
			Message: "token and target are required",
		})
	}
	if !update.State.Valid() {
		return false, errors.WithStack(&trackererrors.ErrInvalidArgument{Name: model.AttributeState, Value: update.State.String()})
	}

	tokenStripe, targetStripe, unlock := index.lockPair(update.Token, update.Target)
	defer unlock()

	current := tokenStripe.byToken[update.Token]
	if current != nil {
		if current.job.Target != update.Target {
			return false, errors.WithStack(&trackererrors.ErrInvalidArgument{
				Name:    model.AttributeTarget,
				Value:   update.Target,
				Message: "token " + update.Token + " is tracked for target " + current.job.Target,
			})
		}
		if current.job.State == model.Ready && update.State != model.Ready {
			return false, errors.WithStack(&trackererrors.ErrStaleUpdate{
				Token:    update.Token,
				Incoming: update.Timestamp.UnixMilli(),
				Current:  current.job.Timestamp.UnixMilli(),
				Reason:   "job is already " + model.Ready.String() + ", ignoring " + update.State.String(),
			})
		}
		if isOlder(update, current.job) {
			return false, errors.WithStack(&trackererrors.ErrStaleUpdate{
				Token:    update.Token,
				Incoming: update.Timestamp.UnixMilli(),
				Current:  current.job.Timestamp.UnixMilli(),
			})
		}
	}

	e := &entry{job: update.Copy(), lastSeen: now}
	tokenStripe.byToken[update.Token] = e

	owner := targetStripe.byTarget[update.Target]
	if owner == nil || owner == current || !update.Timestamp.Before(owner.job.Timestamp) {
		targetStripe.byTarget[update.Target] = e
		return true, nil
	}
	return false, nil
}

func isOlder(update *model.Job, current *model.Job) bool {
	if update.Timestamp.Before(current.Timestamp) {
		return true
	}
	return update.Timestamp.Equal(current.Timestamp) && update.State < current.State
}

// Get returns a copy of the job tracked under token, or nil.
func (index *StatusIndex) Get(token string) *model.Job {
	s := index.stripes[index.stripeFor(token)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byToken[token]; ok {
		return e.job.Copy()
	}
	return nil
}

// GetByTarget returns a copy of the job currently owning target, or nil.
func (index *StatusIndex) GetByTarget(target string) *model.Job {
	s := index.stripes[index.stripeFor(target)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byTarget[target]; ok {
		return e.job.Copy()
	}
	return nil
}

// IsRunning is true if the job owning target is still Preprocessing or Processing.
func (index *StatusIndex) IsRunning(target string) bool {
	s := index.stripes[index.stripeFor(target)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byTarget[target]
	return ok && e.job.State.InFlight()
}

// RemoveToken drops the token and, if the token owns it, its target. Returns the removed job.
func (index *StatusIndex) RemoveToken(token string) *model.Job {
	return index.removeToken(token, func(*entry) bool { return true })
}

// RemoveTarget drops the target and the token owning it. Returns the removed job.
func (index *StatusIndex) RemoveTarget(target string) *model.Job {
	for {
		job := index.GetByTarget(target)
		if job == nil {
			return nil
		}
		removed := index.removeToken(job.Token, func(e *entry) bool {
			return e.job.Target == target
		})
		if removed != nil {
			return removed
		}
		// The owner changed between the lookup and the removal.
	}
}

// removeToken removes token if the entry stored for it satisfies match.
func (index *StatusIndex) removeToken(token string, match func(*entry) bool) *model.Job {
	for {
		target, ok := index.targetOf(token)
		if !ok {
			return nil
		}
		tokenStripe, targetStripe, unlock := index.lockPair(token, target)
		e, ok := tokenStripe.byToken[token]
		if !ok {
			unlock()
			return nil
		}
		if e.job.Target != target {
			// Replaced under a different target while unlocked; go round again.
			unlock()
			continue
		}
		if !match(e) {
			unlock()
			return nil
		}
		delete(tokenStripe.byToken, token)
		if targetStripe.byTarget[target] == e {
			delete(targetStripe.byTarget, target)
		}
		unlock()
		return e.job.Copy()
	}
}

func (index *StatusIndex) targetOf(token string) (string, bool) {
	s := index.stripes[index.stripeFor(token)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byToken[token]
	if !ok {
		return "", false
	}
	return e.job.Target, true
}

// Evict removes entries that have not been updated since before now-idleTTL and returns how many
// tokens were removed.
func (index *StatusIndex) Evict(now time.Time, idleTTL time.Duration) int {
	cutoff := now.Add(-idleTTL)
	var idle []string
	for _, s := range index.stripes {
		s.mu.RLock()
		for token, e := range s.byToken {
			if e.lastSeen.Before(cutoff) {
				idle = append(idle, token)
			}
		}
		s.mu.RUnlock()
	}
	evicted := 0
	for _, token := range idle {
		removed := index.removeToken(token, func(e *entry) bool {
			return e.lastSeen.Before(cutoff)
		})
		if removed != nil {
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked tokens and targets.
func (index *StatusIndex) Len() (tokens int, targets int) {
	for _, s := range index.stripes {
		s.mu.RLock()
		tokens += len(s.byToken)
		targets += len(s.byTarget)
		s.mu.RUnlock()
	}
	return tokens, targets
}

// Jobs returns copies of every tracked job ordered by timestamp.
func (index *StatusIndex) Jobs() []*model.Job {
	var jobs []*model.Job
	for _, s := range index.stripes {
		s.mu.RLock()
		for _, e := range s.byToken {
			jobs = append(jobs, e.job.Copy())
		}
		s.mu.RUnlock()
	}
	sortByTimestamp(jobs)
	return jobs
}

func sortByTimestamp(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Timestamp.Equal(jobs[j].Timestamp) {
			return jobs[i].Token < jobs[j].Token
		}
		return jobs[i].Timestamp.Before(jobs[j].Timestamp)
	})
}
