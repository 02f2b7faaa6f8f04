package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHostABI(t *testing.T) (*HostABI, *ManaLedger, *GovernanceEngine, *MeshRuntime) {
	t.Helper()
	mana := NewManaLedger(ManaLedgerConfig{BaseCapacity: 10_000}, nil)
	roles := NewRoleStore()
	rep := NewReputationStore(nil)
	gov := NewGovernanceEngine(GovernanceConfig{SubmissionFee: 10, VoteFee: 1}, mana, roles, rep)
	mesh := NewMeshRuntime(MeshRuntimeConfig{}, mana, nil)
	bids := NewBidBoard(rep)
	dag := NewDAGStore(NewMemoryBackend(), nil)
	resolver := NewMemoryKeyResolver()
	host := NewHostABI(mana, gov, mesh, bids, dag, roles, rep, resolver)
	return host, mana, gov, mesh
}

func TestHostABIGetAvailableManaAndConsumeMana(t *testing.T) {
	host, mana, _, _ := newTestHostABI(t)
	did, _ := ParseDID("did:icn:caller")
	mana.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(did, 500))

	bal, err := host.GetAvailableMana(did)
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal)

	require.NoError(t, host.ConsumeMana(did, 100))
	bal, err = host.GetAvailableMana(did)
	require.NoError(t, err)
	require.Equal(t, uint64(400), bal)
}

func TestHostABICalculateQuorumRoundsUp(t *testing.T) {
	host, _, _, _ := newTestHostABI(t)
	require.Equal(t, 5, host.CalculateQuorum(10, 0.41))
	require.Equal(t, 0, host.CalculateQuorum(0, 0.5))
}

func TestHostABIGetMemberCount(t *testing.T) {
	host, _, _, _ := newTestHostABI(t)
	a, _ := ParseDID("did:icn:member-a")
	b, _ := ParseDID("did:icn:member-b")
	require.NoError(t, host.roles.GrantRole(a, "validator"))
	require.NoError(t, host.roles.GrantRole(b, "validator"))

	n, err := host.GetMemberCount("validator")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestHostABICurrentTimestampIsMonotonic(t *testing.T) {
	host, _, _, _ := newTestHostABI(t)
	a := host.CurrentTimestamp()
	b := host.CurrentTimestamp()
	require.Greater(t, b, a)
}

func TestHostABIGovernanceRoundTrip(t *testing.T) {
	host, mana, _, _ := newTestHostABI(t)
	proposer, _ := ParseDID("did:icn:proposer")
	mana.OpenAccount(proposer, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(proposer, 1000))

	p, err := host.CreateGovernanceProposal(proposer, "param_change", "raise fee", 0.1, 0.1, ScopeLocal, 5, EligibilityPredicate{})
	require.NoError(t, err)

	data, err := host.GetProposalData(p.ID.String())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	require.NoError(t, host.governance.OpenVoting(p.ID, time.Now().Add(time.Hour)))
	voter, _ := ParseDID("did:icn:voter")
	mana.OpenAccount(voter, OrgCommunity, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(voter, 10))
	require.NoError(t, host.CastGovernanceVote(p.ID.String(), voter, VoteYes, nil))

	count, err := host.GetVoteCount(p.ID.String())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	status, err := host.CloseGovernanceProposalVoting(p.ID.String())
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	require.NoError(t, host.ExecuteGovernanceProposal(p.ID.String()))
}

func TestHostABIAnchorReceiptUpdatesReputationAndDAG(t *testing.T) {
	host, _, _, _ := newTestHostABI(t)
	executor, pub, err := NewIdentity(mustParseDID(t, "did:icn:executor"))
	require.NoError(t, err)
	host.resolver.(*MemoryKeyResolver).Register(executor.DID, pub)

	receipt := ExecutionReceipt{ExecutorDID: executor.DID, Success: true, CPUMs: 500, Timestamp: time.Now().UTC()}
	receipt.Signature = executor.Sign(receiptSigningBytes(receipt))

	cid, err := host.AnchorReceipt(receipt)
	require.NoError(t, err)
	require.False(t, cid.IsZero())
	require.Greater(t, host.reputation.Get(executor.DID), 0.0)
}

func TestHostABIAnchorReceiptRejectsBadSignature(t *testing.T) {
	host, _, _, _ := newTestHostABI(t)
	executor, pub, err := NewIdentity(mustParseDID(t, "did:icn:executor-bad-sig"))
	require.NoError(t, err)
	host.resolver.(*MemoryKeyResolver).Register(executor.DID, pub)

	receipt := ExecutionReceipt{ExecutorDID: executor.DID, Success: true, CPUMs: 500, Timestamp: time.Now().UTC()}
	receipt.Signature = []byte("not a real signature")

	_, err = host.AnchorReceipt(receipt)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func mustParseDID(t *testing.T, s string) DID {
	t.Helper()
	d, err := ParseDID(s)
	require.NoError(t, err)
	return d
}

func TestHostABISubmitAndFetchPendingMeshJobs(t *testing.T) {
	host, mana, _, _ := newTestHostABI(t)
	creator, _ := ParseDID("did:icn:jobcreator")
	mana.OpenAccount(creator, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(creator, 1000))

	job, err := host.SubmitMeshJob(creator, echoJobPayload(t, 50))
	require.NoError(t, err)

	pending, err := host.GetPendingMeshJobs()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].ID.Equal(job.ID))
}
