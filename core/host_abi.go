package core

// host_abi.go – the ICN host function table: a single struct holding every
// capability a guest module can reach, with each exported function a thin,
// policy-enforcing wrapper around the real component (mana ledger,
// governance engine, mesh runtime, DAG store). wasm_executor.go binds a
// subset of these as wasmer imports (see registerHost); HostABI itself has no wasm dependency so it can also
// be driven directly from tests or a native CLI shim.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// HostABI wires every runtime component a CCL module or native caller may
// invoke through the host function table.
type HostABI struct {
	mana *ManaLedger
	governance *GovernanceEngine
	mesh *MeshRuntime
	bids *BidBoard
	dag *DAGStore
	roles *RoleStore
	reputation *ReputationStore
	resolver KeyResolver

	// logicalClock backs get_current_timestamp: CCL execution must be
	// reproducible across nodes, so wall-clock time is never read from
	// inside a module — every call instead ticks this monotonic counter.
	logicalClock uint64
}

// NewHostABI wires a HostABI over the given components. Any may be nil in
// a test harness exercising only a subset of the table; calls touching a
// nil component return ErrInternal.
func NewHostABI(mana *ManaLedger, governance *GovernanceEngine, mesh *MeshRuntime, bids *BidBoard, dag *DAGStore, roles *RoleStore, reputation *ReputationStore, resolver KeyResolver) *HostABI {
	return &HostABI{
		mana: mana, governance: governance, mesh: mesh, bids: bids,
		dag: dag, roles: roles, reputation: reputation, resolver: resolver,
	}
}

// CurrentTimestamp advances and returns the deterministic logical clock.
func (h *HostABI) CurrentTimestamp() uint64 {
	return atomic.AddUint64(&h.logicalClock, 1)
}

// GetAvailableMana implements get_available_mana / account_get_mana.
func (h *HostABI) GetAvailableMana(did DID) (uint64, error) {
	if h.mana == nil {
		return 0, fmt.Errorf("%w: mana ledger not wired", ErrInternal)
	}
	return h.mana.GetBalance(did)
}

// ConsumeMana implements consume_mana / account_spend_mana. A guest may
// only ever spend its own mana — there is no parameter to target another
// DID, so the caller passed in is always the one charged.
func (h *HostABI) ConsumeMana(caller DID, amount uint64) error {
	if h.mana == nil {
		return fmt.Errorf("%w: mana ledger not wired", ErrInternal)
	}
	return h.mana.Spend(caller, amount)
}

// CreditMana implements account_credit_mana. Unlike ConsumeMana this does
// accept an arbitrary target DID. It is not bound into the wasm imports,
// and no component in the core calls it: the mesh runtime refunds through
// ManaLedger.Credit directly.
func (h *HostABI) CreditMana(target DID, amount uint64) error {
	if h.mana == nil {
		return fmt.Errorf("%w: mana ledger not wired", ErrInternal)
	}
	return h.mana.Credit(target, amount)
}

// GetMemberCount implements get_member_count: the number of DIDs holding
// role, used by CCL to compute quorum bases.
func (h *HostABI) GetMemberCount(role string) (int, error) {
	if h.roles == nil {
		return 0, fmt.Errorf("%w: role store not wired", ErrInternal)
	}
	return h.roles.CountWithRole(role), nil
}

// CalculateQuorum implements calculate_quorum: ceil(eligible * quorum),
// a pure function requiring no component access.
func (h *HostABI) CalculateQuorum(eligible int, quorum float64) int {
	if eligible <= 0 || quorum <= 0 {
		return 0
	}
	need := float64(eligible) * quorum
	n := int(need)
	if float64(n) < need {
		n++
	}
	return n
}

// proposalView is the JSON shape returned by get_proposal_data, exposing
// only the fields a CCL module needs to reason about a proposal.
type proposalView struct {
	ID string `json:"id"`
	Type string `json:"type"`
	Status string `json:"status"`
	Quorum float64 `json:"quorum"`
	Threshold float64 `json:"threshold"`
	EligibleVoters int `json:"eligible_voters"`
}

// GetProposalData implements get_proposal_data.
func (h *HostABI) GetProposalData(proposalID string) ([]byte, error) {
	if h.governance == nil {
		return nil, fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	id, err := DecodeCIDFromString(proposalID)
	if err != nil {
		return nil, err
	}
	p, err := h.governance.Get(id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proposalView{
		ID: p.ID.String(), Type: string(p.Type), Status: p.Status.String(),
		Quorum: p.Quorum, Threshold: p.Threshold, EligibleVoters: p.EligibleVoters,
	})
}

// GetVoteCount implements get_vote_count, returning the current yes-vote
// count (the figure CCL quorum checks most commonly need).
func (h *HostABI) GetVoteCount(proposalID string) (int, error) {
	if h.governance == nil {
		return 0, fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	id, err := DecodeCIDFromString(proposalID)
	if err != nil {
		return 0, err
	}
	yes, _, _, err := h.governance.VoteCounts(id)
	return yes, err
}

// VerifySignature implements verify_signature.
func (h *HostABI) VerifySignature(signer DID, msg, sig []byte) error {
	if h.resolver == nil {
		return fmt.Errorf("%w: key resolver not wired", ErrInternal)
	}
	return Verify(h.resolver, signer, msg, sig)
}

// SubmitMeshJob implements submit_mesh_job.
func (h *HostABI) SubmitMeshJob(creator DID, payload []byte) (*Job, error) {
	if h.mesh == nil {
		return nil, fmt.Errorf("%w: mesh runtime not wired", ErrInternal)
	}
	return h.mesh.SubmitJob(context.Background(), creator, payload)
}

// GetPendingMeshJobs implements get_pending_mesh_jobs.
func (h *HostABI) GetPendingMeshJobs() ([]Job, error) {
	if h.mesh == nil {
		return nil, fmt.Errorf("%w: mesh runtime not wired", ErrInternal)
	}
	return h.mesh.PendingJobs(), nil
}

// receiptSigningFields is the subset of ExecutionReceipt the executor signs
// over: everything but the signature itself, so AnchorReceipt can verify
// against the same bytes the executor produced them from.
type receiptSigningFields struct {
	JobID string `json:"job_id"`
	ExecutorDID string `json:"executor_did"`
	ResultCID string `json:"result_cid"`
	CPUMs uint64 `json:"cpu_ms"`
	Success bool `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

func receiptSigningBytes(receipt ExecutionReceipt) []byte {
	b, _ := json.Marshal(receiptSigningFields{
		JobID: receipt.JobID.String(),
		ExecutorDID: receipt.ExecutorDID.String(),
		ResultCID: receipt.ResultCID.String(),
		CPUMs: receipt.CPUMs,
		Success: receipt.Success,
		Timestamp: receipt.Timestamp.UnixNano(),
	})
	return b
}

// AnchorReceipt implements anchor_receipt: verifies the executor's
// signature, writes the receipt as a DAG block (content-addressed,
// author-signed), and folds it into the executor's reputation. An
// unverifiable signature is never anchored and never reaches reputation.
func (h *HostABI) AnchorReceipt(receipt ExecutionReceipt) (CID, error) {
	if h.dag == nil {
		return CID{}, fmt.Errorf("%w: dag store not wired", ErrInternal)
	}
	if h.resolver == nil {
		return CID{}, fmt.Errorf("%w: key resolver not wired", ErrInternal)
	}
	if err := Verify(h.resolver, receipt.ExecutorDID, receiptSigningBytes(receipt), receipt.Signature); err != nil {
		return CID{}, fmt.Errorf("%w: receipt signature: %v", ErrInvalidSignature, err)
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	block, err := NewBlock(data, nil, receipt.ExecutorDID, ScopeGlobal)
	if err != nil {
		return CID{}, err
	}
	block = block.Sign(receipt.Signature)
	if err := h.dag.Put(context.Background(), block); err != nil {
		return CID{}, err
	}
	if h.reputation != nil {
		h.reputation.ApplyReceipt(receipt.ExecutorDID, receipt.Success, receipt.CPUMs)
	}
	return block.CID, nil
}

// CreateGovernanceProposal implements create_governance_proposal.
func (h *HostABI) CreateGovernanceProposal(proposer DID, ptype ProposalType, description string, quorum, threshold float64, scope Scope, eligibleVoters int, elig EligibilityPredicate) (*Proposal, error) {
	if h.governance == nil {
		return nil, fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	return h.governance.SubmitProposal(proposer, ptype, description, quorum, threshold, scope, eligibleVoters, elig)
}

// CastGovernanceVote implements cast_governance_vote.
func (h *HostABI) CastGovernanceVote(proposalID string, voter DID, option VoteOption, signature []byte) error {
	if h.governance == nil {
		return fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	id, err := DecodeCIDFromString(proposalID)
	if err != nil {
		return err
	}
	return h.governance.CastVote(id, voter, option, signature)
}

// CloseGovernanceProposalVoting implements close_governance_proposal_voting.
func (h *HostABI) CloseGovernanceProposalVoting(proposalID string) (ProposalStatus, error) {
	if h.governance == nil {
		return 0, fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	id, err := DecodeCIDFromString(proposalID)
	if err != nil {
		return 0, err
	}
	return h.governance.CloseVoting(id)
}

// ExecuteGovernanceProposal implements execute_governance_proposal.
func (h *HostABI) ExecuteGovernanceProposal(proposalID string) error {
	if h.governance == nil {
		return fmt.Errorf("%w: governance engine not wired", ErrInternal)
	}
	id, err := DecodeCIDFromString(proposalID)
	if err != nil {
		return err
	}
	return h.governance.ExecuteProposal(id)
}
