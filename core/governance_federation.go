package core

// governance_federation.go – federation vote-scaling aggregation. The
// audit trail records one `(yes, no, abstain, eligible, factor)` tuple
// keyed by `(proposal, level)` per scaling pass, so any vote-count dispute
// can be replayed from the recorded inputs.

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// ScalingFunction is one of the vote-aggregation strategies.
type ScalingFunction int

const (
	ScalingLinear ScalingFunction = iota
	ScalingQuadratic
	ScalingLogarithmic
	ScalingReputationWeighted
	ScalingOneGroupOneVote
	ScalingHybrid
)

// GroupVoteTally is one participating group's raw vote counts at a given
// scope level, before scaling.
type GroupVoteTally struct {
	GroupID string
	Level Scope
	Yes float64
	No float64
	Abstain float64
	Eligible float64
	// AverageReputation is only consulted by ScalingReputationWeighted.
	AverageReputation float64
}

// scalingFactor computes the scaling multiplier f for a tally under fn. For
// ScalingHybrid, hybridFns supplies the component functions to average.
func scalingFactor(fn ScalingFunction, tally GroupVoteTally, hybridFns []ScalingFunction) float64 {
	switch fn {
	case ScalingLinear:
		return tally.Eligible
	case ScalingQuadratic:
		if tally.Eligible <= 0 {
			return 0
		}
		return math.Sqrt(tally.Eligible)
	case ScalingLogarithmic:
		if tally.Eligible <= 1 {
			return 0
		}
		return math.Log(tally.Eligible)
	case ScalingReputationWeighted:
		return tally.Eligible * tally.AverageReputation
	case ScalingOneGroupOneVote:
		return 1
	case ScalingHybrid:
		if len(hybridFns) == 0 {
			return tally.Eligible
		}
		sum := 0.0
		for _, f := range hybridFns {
			sum += scalingFactor(f, tally, nil)
		}
		return sum / float64(len(hybridFns))
	default:
		return tally.Eligible
	}
}

// FederationAuditEntry is one persisted `(yes, no, abstain, eligible,
// factor)` tuple for a `(proposal, level)` key.
type FederationAuditEntry struct {
	ProposalID string
	Level Scope
	GroupID string
	Yes float64
	No float64
	Abstain float64
	Eligible float64
	Factor float64
}

// FederationAggregator aggregates GroupVoteTally entries up a scope
// hierarchy and records every intermediate sum as an audit entry.
type FederationAggregator struct {
	mu sync.Mutex
	audit []FederationAuditEntry
}

// NewFederationAggregator returns an empty aggregator.
func NewFederationAggregator() *FederationAggregator {
	return &FederationAggregator{}
}

// Aggregate scales each tally by fn (using hybridFns if fn is
// ScalingHybrid), records an audit entry per tally, and returns the
// summed scaled `(yes, no, abstain, eligible)` across all tallies.
func (a *FederationAggregator) Aggregate(proposalID string, fn ScalingFunction, hybridFns []ScalingFunction, tallies []GroupVoteTally) (yes, no, abstain, eligible float64, err error) {
	if len(tallies) == 0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: no group tallies to aggregate", ErrInvalidParameters)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range tallies {
		factor := scalingFactor(fn, t, hybridFns)
		yes += t.Yes * factor
		no += t.No * factor
		abstain += t.Abstain * factor
		eligible += t.Eligible * factor
		a.audit = append(a.audit, FederationAuditEntry{
			ProposalID: proposalID,
			Level: t.Level,
			GroupID: t.GroupID,
			Yes: t.Yes,
			No: t.No,
			Abstain: t.Abstain,
			Eligible: t.Eligible,
			Factor: factor,
		})
	}
	return yes, no, abstain, eligible, nil
}

// AuditTrail returns every recorded entry for (proposalID, level), sorted
// by group id.
func (a *FederationAggregator) AuditTrail(proposalID string, level Scope) []FederationAuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]FederationAuditEntry, 0)
	for _, e := range a.audit {
		if e.ProposalID == proposalID && e.Level == level {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}
