package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func contractFixture(t *testing.T, seed, title string) SocialContract {
	t.Helper()
	id, err := ComputeCID([]byte(seed), CodecRaw)
	require.NoError(t, err)
	creator, err := ParseDID("did:icn:founder")
	require.NoError(t, err)
	return SocialContract{ID: id, Title: title, Scope: ScopeLocal, CreatorDID: creator}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := NewSocialContractRegistry()
	sc := contractFixture(t, "c1", "Charter")
	require.NoError(t, reg.Register(sc))
	require.ErrorIs(t, reg.Register(sc), ErrAlreadyExists)
}

func TestAmendRecordsVersionHistoryAcrossLineage(t *testing.T) {
	reg := NewSocialContractRegistry()

	v1 := contractFixture(t, "charter-v1", "Charter")
	v1.Version = SemanticVersion{Major: 1}
	require.NoError(t, reg.Register(v1))

	v2 := contractFixture(t, "charter-v2", "Charter")
	v2.Version = SemanticVersion{Major: 1, Minor: 1}
	require.NoError(t, reg.Amend(v1.ID, v2))

	v3 := contractFixture(t, "charter-v3", "Charter")
	v3.Version = SemanticVersion{Major: 2}
	require.NoError(t, reg.Amend(v2.ID, v3))

	// The whole lineage is visible from any of its versions.
	for _, id := range []CID{v1.ID, v2.ID, v3.ID} {
		history := reg.VersionHistory(id)
		require.Len(t, history, 3)
	}

	got, err := reg.Get(v3.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Predecessor)
	require.True(t, got.Predecessor.Equal(v2.ID))
}

func TestAmendUnknownPredecessorFails(t *testing.T) {
	reg := NewSocialContractRegistry()
	missing, _ := ComputeCID([]byte("never-registered"), CodecRaw)
	require.ErrorIs(t, reg.Amend(missing, contractFixture(t, "x", "X")), ErrNotFound)
}

func TestConsentValidityForQuorum(t *testing.T) {
	reg := NewSocialContractRegistry()
	sc := contractFixture(t, "consent-contract", "Consent")
	require.NoError(t, reg.Register(sc))

	members := map[string]ConsentState{
		"did:icn:m1": ConsentConsented,
		"did:icn:m2": ConsentImplicit,
		"did:icn:m3": ConsentDeclined,
		"did:icn:m4": ConsentPending,
		"did:icn:m5": ConsentWithdrawn,
	}
	for s, state := range members {
		did, err := ParseDID(s)
		require.NoError(t, err)
		require.NoError(t, reg.RecordConsent(sc.ID, did, state))
	}

	eligible := reg.QuorumEligibleConsents(sc.ID)
	require.Len(t, eligible, 2, "only Consented and ImplicitConsent count toward quora")
}

func TestSemanticVersionString(t *testing.T) {
	require.Equal(t, "2.1.3", SemanticVersion{Major: 2, Minor: 1, Patch: 3}.String())
}
