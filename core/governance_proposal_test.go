package core

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newGovTestEngine(t *testing.T) (*GovernanceEngine, *ManaLedger) {
	t.Helper()
	mana := NewManaLedger(ManaLedgerConfig{BaseCapacity: 10_000}, nil)
	roles := NewRoleStore()
	rep := NewReputationStore(nil)
	g := NewGovernanceEngine(GovernanceConfig{SubmissionFee: 50, VoteFee: 1}, mana, roles, rep)
	return g, mana
}

func openVotingProposal(t *testing.T, g *GovernanceEngine, mana *ManaLedger, eligibleVoters int, quorum, threshold float64) *Proposal {
	t.Helper()
	proposer, _ := ParseDID("did:icn:proposer")
	mana.OpenAccount(proposer, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(proposer, 1000))

	p, err := g.SubmitProposal(proposer, "param_change", "raise fee", quorum, threshold, ScopeLocal, eligibleVoters, EligibilityPredicate{})
	require.NoError(t, err)
	require.NoError(t, g.OpenVoting(p.ID, time.Now().Add(time.Hour)))
	return p
}

func castVotes(t *testing.T, g *GovernanceEngine, mana *ManaLedger, p *Proposal, yes, no, abstain int) {
	t.Helper()
	cast := func(idx int, opt VoteOption) {
		did, err := ParseDID("did:icn:voter" + string(rune('a'+idx)))
		require.NoError(t, err)
		mana.OpenAccount(did, OrgCommunity, HardwareMetrics{Cores: 1})
		require.NoError(t, mana.SetBalance(did, 10))
		require.NoError(t, g.CastVote(p.ID, did, opt, nil))
	}
	idx := 0
	for i := 0; i < yes; i++ {
		cast(idx, VoteYes)
		idx++
	}
	for i := 0; i < no; i++ {
		cast(idx, VoteNo)
		idx++
	}
	for i := 0; i < abstain; i++ {
		cast(idx, VoteAbstain)
		idx++
	}
}

func TestGovernanceScenarioS3Accept(t *testing.T) {
	g, mana := newGovTestEngine(t)
	p := openVotingProposal(t, g, mana, 100, 0.50, 0.60)
	castVotes(t, g, mana, p, 40, 20, 5)

	status, err := g.CloseVoting(p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
}

func TestGovernanceScenarioS4RejectQuorum(t *testing.T) {
	g, mana := newGovTestEngine(t)
	p := openVotingProposal(t, g, mana, 100, 0.50, 0.60)
	castVotes(t, g, mana, p, 20, 5, 5)

	status, err := g.CloseVoting(p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status)
}

func TestGovernanceAcceptRequiresBothQuorumAndThresholdBoundary(t *testing.T) {
	// Exactly at quorum, exactly at threshold: must accept.
	g, mana := newGovTestEngine(t)
	p := openVotingProposal(t, g, mana, 10, 0.50, 0.60)
	castVotes(t, g, mana, p, 3, 2, 0) // total 5/10 = 0.50 participation, yes-share 3/5=0.60

	status, err := g.CloseVoting(p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	// Just under threshold must reject.
	g2, mana2 := newGovTestEngine(t)
	p2 := openVotingProposal(t, g2, mana2, 10, 0.50, 0.60)
	castVotes(t, g2, mana2, p2, 2, 2, 1) // total 5/10=0.50, yes-share 2/4=0.50 < 0.60

	status2, err := g2.CloseVoting(p2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status2)
}

func TestSubmitProposalRejectsUnknownType(t *testing.T) {
	g, mana := newGovTestEngine(t)
	proposer, _ := ParseDID("did:icn:proposer3")
	mana.OpenAccount(proposer, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(proposer, 1000))

	_, err := g.SubmitProposal(proposer, "coup_attempt", "d", 0.1, 0.1, ScopeLocal, 10, EligibilityPredicate{})
	require.ErrorIs(t, err, ErrUnknownProposal)

	bal, err := mana.GetBalance(proposer)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal, "a rejected submission must not charge the fee")
}

func TestGovernanceDoubleVoteRejected(t *testing.T) {
	g, mana := newGovTestEngine(t)
	p := openVotingProposal(t, g, mana, 10, 0.1, 0.1)

	voter, _ := ParseDID("did:icn:voterx")
	mana.OpenAccount(voter, OrgCommunity, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(voter, 10))

	require.NoError(t, g.CastVote(p.ID, voter, VoteYes, nil))
	err := g.CastVote(p.ID, voter, VoteNo, nil)
	require.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestGovernanceIneligibleVoterRejected(t *testing.T) {
	g, mana := newGovTestEngine(t)
	proposer, _ := ParseDID("did:icn:proposer2")
	mana.OpenAccount(proposer, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(proposer, 1000))

	p, err := g.SubmitProposal(proposer, ProposalText, "d", 0.1, 0.1, ScopeLocal, 10,
		EligibilityPredicate{MinReputation: 5.0})
	require.NoError(t, err)
	require.NoError(t, g.OpenVoting(p.ID, time.Now().Add(time.Hour)))

	voter, _ := ParseDID("did:icn:lowrep")
	mana.OpenAccount(voter, OrgCommunity, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(voter, 10))

	err = g.CastVote(p.ID, voter, VoteYes, nil)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestFederationScalingFunctions(t *testing.T) {
	agg := NewFederationAggregator()
	tallies := []GroupVoteTally{
		{GroupID: "coop-a", Level: ScopeLocal, Yes: 10, No: 2, Abstain: 1, Eligible: 20},
		{GroupID: "coop-b", Level: ScopeLocal, Yes: 5, No: 5, Abstain: 0, Eligible: 50},
	}
	yes, no, abstain, eligible, err := agg.Aggregate("prop1", ScalingQuadratic, nil, tallies)
	require.NoError(t, err)
	require.Greater(t, yes, 0.0)
	require.Greater(t, no, 0.0)
	require.InDelta(t, math.Sqrt(20), abstain, 1e-9)
	require.Greater(t, eligible, 0.0)

	trail := agg.AuditTrail("prop1", ScopeLocal)
	require.Len(t, trail, 2)
}

func TestSocialContractForkLinksParentAndChild(t *testing.T) {
	reg := NewSocialContractRegistry()
	creator, _ := ParseDID("did:icn:founder")
	parentID, _ := ComputeCID([]byte("parent-contract"), CodecRaw)

	parent := SocialContract{ID: parentID, Title: "Parent", CreatorDID: creator}
	require.NoError(t, reg.Register(parent))

	childID, _ := ComputeCID([]byte("child-contract"), CodecRaw)
	child := SocialContract{ID: childID, Title: "Child", CreatorDID: creator}
	require.NoError(t, reg.Fork(parentID, child))

	gotParent, err := reg.Get(parentID)
	require.NoError(t, err)
	require.Len(t, gotParent.ChildContracts, 1)
	require.True(t, gotParent.ChildContracts[0].Equal(childID))

	gotChild, err := reg.Get(childID)
	require.NoError(t, err)
	require.NotNil(t, gotChild.Parent)
	require.True(t, gotChild.Parent.Equal(parentID))
}
