package core

// governance_proposal.go – proposal/vote state machine:
// Draft→Deliberation→Voting→{Accepted,Rejected,Expired}→Executed, using
// zap for structured logging at each transition.

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProposalStatus is the state machine.
type ProposalStatus int

const (
	StatusDraft ProposalStatus = iota
	StatusDeliberation
	StatusVoting
	StatusAccepted
	StatusRejected
	StatusExecuted
	StatusExpired
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusDeliberation:
		return "deliberation"
	case StatusVoting:
		return "voting"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusExecuted:
		return "executed"
	case StatusExpired:
		return "expired"
	default:
		return "draft"
	}
}

// ProposalType is the closed set of proposal kinds. Anything outside the
// known list is rejected at submission rather than silently accepted.
type ProposalType string

const (
	ProposalParamChange ProposalType = "param_change"
	ProposalMembership ProposalType = "membership"
	ProposalContractAmendment ProposalType = "contract_amendment"
	ProposalResourceAllocation ProposalType = "resource_allocation"
	ProposalEmergency ProposalType = "emergency"
	ProposalText ProposalType = "text"
)

// ParseProposalType validates s against the known variant list.
func ParseProposalType(s string) (ProposalType, error) {
	switch t := ProposalType(s); t {
	case ProposalParamChange, ProposalMembership, ProposalContractAmendment,
		ProposalResourceAllocation, ProposalEmergency, ProposalText:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProposal, s)
	}
}

// VoteOption is a ballot choice.
type VoteOption int

const (
	VoteYes VoteOption = iota
	VoteNo
	VoteAbstain
)

// EligibilityPredicate declares the requirements a voter's DID must pass:
// role, minimum mana, minimum reputation.
type EligibilityPredicate struct {
	RequiredRole string // empty means no role requirement
	MinMana uint64
	MinReputation float64
}

// Vote is `{voter, option, timestamp, signature}`.
type Vote struct {
	Voter DID
	Option VoteOption
	Timestamp time.Time
	Signature []byte
}

// Proposal is `{id, proposer_did, type, description, voting_opens_at,
// voting_closes_at, quorum, threshold, scope, content_cid?, status}`.
type Proposal struct {
	ID CID
	ProposerDID DID
	Type ProposalType
	Description string
	VotingOpensAt time.Time
	VotingClosesAt time.Time
	Quorum float64
	Threshold float64
	Scope Scope
	ContentCID CID
	Status ProposalStatus
	Eligibility EligibilityPredicate
	EligibleVoters int

	votes map[DID]Vote
}

// GovernanceConfig carries the fee schedule.
type GovernanceConfig struct {
	SubmissionFee uint64
	VoteFee uint64
}

// GovernanceEngine is the single-mutex governance module: operations are
// short, and long-running execution of accepted proposals must be
// dispatched off-lock by the caller.
type GovernanceEngine struct {
	mu sync.Mutex
	proposals map[string]*Proposal
	cfg GovernanceConfig
	mana *ManaLedger
	roles *RoleStore
	reputation *ReputationStore
	logger *zap.SugaredLogger
}

// NewGovernanceEngine wires a GovernanceEngine over the given mana ledger,
// role store, and reputation store.
func NewGovernanceEngine(cfg GovernanceConfig, mana *ManaLedger, roles *RoleStore, reputation *ReputationStore) *GovernanceEngine {
	logger, _ := zap.NewProduction()
	return &GovernanceEngine{
		proposals: make(map[string]*Proposal),
		cfg: cfg,
		mana: mana,
		roles: roles,
		reputation: reputation,
		logger: logger.Sugar(),
	}
}

// SubmitProposal charges the submission fee from proposer and registers a
// new Draft proposal. The proposal's id is a CID derived from its content,
// per the same "identity via hash" convention as mesh jobs.
func (g *GovernanceEngine) SubmitProposal(proposer DID, ptype ProposalType, description string, quorum, threshold float64, scope Scope, eligibleVoters int, elig EligibilityPredicate) (*Proposal, error) {
	if quorum < 0 || quorum > 1 || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: quorum/threshold must be in [0,1]", ErrInvalidParameters)
	}
	if _, err := ParseProposalType(string(ptype)); err != nil {
		return nil, err
	}
	if err := g.mana.Spend(proposer, g.cfg.SubmissionFee); err != nil {
		return nil, err
	}

	content := []byte(proposer.String() + string(ptype) + description)
	id, err := ComputeCID(content, CodecRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	p := &Proposal{
		ID: id,
		ProposerDID: proposer,
		Type: ptype,
		Description: description,
		Quorum: quorum,
		Threshold: threshold,
		Scope: scope,
		Status: StatusDraft,
		Eligibility: elig,
		EligibleVoters: eligibleVoters,
		votes: make(map[DID]Vote),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.proposals[id.String()] = p
	g.logger.Infow("proposal submitted", "id", id.String(), "proposer", proposer.String())
	return p, nil
}

// OpenDeliberation transitions Draft → Deliberation.
func (g *GovernanceEngine) OpenDeliberation(id CID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if p.Status != StatusDraft {
		return fmt.Errorf("%w: proposal %s not in draft", ErrInvalidState, id)
	}
	p.Status = StatusDeliberation
	return nil
}

// OpenVoting transitions Draft or Deliberation → Voting, setting the voting
// window.
func (g *GovernanceEngine) OpenVoting(id CID, closesAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if p.Status != StatusDraft && p.Status != StatusDeliberation {
		return fmt.Errorf("%w: proposal %s not ready for voting", ErrInvalidState, id)
	}
	p.Status = StatusVoting
	p.VotingOpensAt = time.Now().UTC()
	p.VotingClosesAt = closesAt
	return nil
}

// eligible checks the predicate for did. Must be called without g.mu held:
// it reads the mana ledger, which has its own lock, and the required lock
// order is mana → governance, so governance must never call into mana
// while holding g.mu.
func (g *GovernanceEngine) eligible(did DID, elig EligibilityPredicate) error {
	if elig.RequiredRole != "" && g.roles != nil && !g.roles.HasRole(did, elig.RequiredRole) {
		return fmt.Errorf("%w: missing role %q", ErrNotEligible, elig.RequiredRole)
	}
	if elig.MinMana > 0 && g.mana != nil {
		bal, err := g.mana.GetBalance(did)
		if err != nil || bal < elig.MinMana {
			return fmt.Errorf("%w: insufficient mana balance for voting", ErrNotEligible)
		}
	}
	if elig.MinReputation > 0 && g.reputation != nil {
		if g.reputation.Get(did) < elig.MinReputation {
			return fmt.Errorf("%w: insufficient reputation for voting", ErrNotEligible)
		}
	}
	return nil
}

// CastVote records voter's ballot, charging the vote fee and rejecting
// ineligible or double votes. Eligibility and the fee charge
// happen while the governance lock is released (it is held only for the
// checks before and the insert after), preserving the mana →
// governance lock order.
func (g *GovernanceEngine) CastVote(id CID, voter DID, option VoteOption, signature []byte) error {
	g.mu.Lock()
	p, err := g.mustGet(id)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if p.Status != StatusVoting {
		g.mu.Unlock()
		return fmt.Errorf("%w: proposal %s is not open for voting", ErrInvalidState, id)
	}
	if !time.Now().Before(p.VotingClosesAt) {
		g.mu.Unlock()
		return fmt.Errorf("%w: voting window for %s has closed", ErrExpired, id)
	}
	if _, already := p.votes[voter]; already {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s already voted on %s", ErrAlreadyVoted, voter, id)
	}
	elig := p.Eligibility
	g.mu.Unlock()

	if err := g.eligible(voter, elig); err != nil {
		return err
	}
	if err := g.mana.Spend(voter, g.cfg.VoteFee); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, err = g.mustGet(id)
	if err != nil {
		return err
	}
	if _, already := p.votes[voter]; already {
		return fmt.Errorf("%w: %s already voted on %s", ErrAlreadyVoted, voter, id)
	}
	p.votes[voter] = Vote{Voter: voter, Option: option, Timestamp: time.Now().UTC(), Signature: signature}
	return nil
}

// CloseVoting closes a proposal (deadline passed or an explicit
// organizing-body call) and computes the accept/reject outcome:
// `participation = total/eligible_voters ≥ quorum` AND
// `yes/(yes+no) ≥ threshold`.
func (g *GovernanceEngine) CloseVoting(id CID) (ProposalStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return 0, err
	}
	if p.Status != StatusVoting {
		return 0, fmt.Errorf("%w: proposal %s is not open for voting", ErrInvalidState, id)
	}

	var yes, no, abstain int
	for _, v := range p.votes {
		switch v.Option {
		case VoteYes:
			yes++
		case VoteNo:
			no++
		case VoteAbstain:
			abstain++
		}
	}
	total := yes + no + abstain
	participation := 0.0
	if p.EligibleVoters > 0 {
		participation = float64(total) / float64(p.EligibleVoters)
	}
	yesShare := 0.0
	if yes+no > 0 {
		yesShare = float64(yes) / float64(yes+no)
	}

	if participation >= p.Quorum && yesShare >= p.Threshold {
		p.Status = StatusAccepted
	} else {
		p.Status = StatusRejected
	}
	g.logger.Infow("voting closed", "id", id.String(), "status", p.Status.String(),
		"participation", participation, "yes_share", yesShare)
	return p.Status, nil
}

// ExpireOverdue sweeps every Voting proposal whose deadline has passed
// without an explicit close, marking it Expired — the background sweep
// described in the lifecycle note.
func (g *GovernanceEngine) ExpireOverdue(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.proposals {
		if p.Status == StatusVoting && now.After(p.VotingClosesAt) {
			p.Status = StatusExpired
		}
	}
}

// ExecuteProposal transitions Accepted → Executed. Actual side effects of
// execution are dispatched by the caller off-lock; this only performs
// the status transition and guard.
func (g *GovernanceEngine) ExecuteProposal(id CID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if p.Status != StatusAccepted {
		return fmt.Errorf("%w: proposal %s was not accepted", ErrNotAccepted, id)
	}
	p.Status = StatusExecuted
	return nil
}

// Get returns a copy of the proposal's current public state.
func (g *GovernanceEngine) Get(id CID) (Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return Proposal{}, err
	}
	return *p, nil
}

// VoteCounts returns the current yes/no/abstain tally for id, used by the
// host ABI's get_vote_count ahead of a formal close.
func (g *GovernanceEngine) VoteCounts(id CID) (yes, no, abstain int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.mustGet(id)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, v := range p.votes {
		switch v.Option {
		case VoteYes:
			yes++
		case VoteNo:
			no++
		case VoteAbstain:
			abstain++
		}
	}
	return yes, no, abstain, nil
}

// mustGet must be called with g.mu held.
func (g *GovernanceEngine) mustGet(id CID) (*Proposal, error) {
	p, ok := g.proposals[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	return p, nil
}
