package core

// reputation.go – per-DID reputation store: a plain bounded score rather
// than a transferable balance, since reputation here feeds bidding and
// trust aggregation rather than being spendable value.

import (
	"sync"
)

// reputationUpdate is the monotonic, bounded update function f(success,
// cpu_ms): successful executions
// add a fixed base reward that decays slightly with execution cost (so
// cheap, fast jobs are rewarded more per unit reputation than expensive
// ones, discouraging reputation farming via arbitrarily long jobs);
// failures subtract a fixed penalty independent of cost. Both terms are
// bounded so no single receipt can move a score by more than ±5.
func reputationUpdate(success bool, cpuMs uint64) float64 {
	const (
		successBase = 2.0
		failurePenalty = -3.0
		decayPerSecond = 0.05
		maxMagnitude = 5.0
	)
	if !success {
		return failurePenalty
	}
	seconds := float64(cpuMs) / 1000.0
	delta := successBase - decayPerSecond*seconds
	if delta < 0.1 {
		delta = 0.1 // a completed job always nets at least a small positive reward
	}
	if delta > maxMagnitude {
		delta = maxMagnitude
	}
	return delta
}

// ReputationStore tracks a bounded reputation score per DID, guarded by a
// single RWMutex.
type ReputationStore struct {
	mu sync.RWMutex
	scores map[DID]float64
	logger Logger

	min, max float64
}

// NewReputationStore returns an empty store with scores clamped to
// [-100, 100]. At the largest per-receipt reward (+2.0) a score starting
// from 0 reaches the upper bound after 50 successful receipts.
func NewReputationStore(logger Logger) *ReputationStore {
	if logger == nil {
		logger = NopLogger{}
	}
	return &ReputationStore{scores: make(map[DID]float64), logger: logger, min: -100, max: 100}
}

// Get returns did's current reputation (0 if never observed).
func (r *ReputationStore) Get(did DID) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scores[did]
}

// ApplyReceipt updates did's reputation from a completed execution,
// reputation' = reputation + f(success, cpu_ms).
func (r *ReputationStore) ApplyReceipt(did DID, success bool, cpuMs uint64) float64 {
	delta := reputationUpdate(success, cpuMs)
	r.mu.Lock()
	defer r.mu.Unlock()
	newScore := r.scores[did] + delta
	if newScore < r.min {
		newScore = r.min
	}
	if newScore > r.max {
		newScore = r.max
	}
	r.scores[did] = newScore
	r.logger.Infof("reputation update for %s: delta=%.2f new=%.2f", did, delta, newScore)
	return newScore
}

// All returns a defensive copy of every tracked DID's score.
func (r *ReputationStore) All() map[DID]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[DID]float64, len(r.scores))
	for k, v := range r.scores {
		out[k] = v
	}
	return out
}
