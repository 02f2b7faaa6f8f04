package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDIDRoundTrip(t *testing.T) {
	d, err := ParseDID("did:icn:alice")
	require.NoError(t, err)
	require.Equal(t, "icn", d.Method)
	require.Equal(t, "alice", d.SpecificID)
	require.Equal(t, "did:icn:alice", d.String())
}

func TestParseDIDSpecificIDMayContainColons(t *testing.T) {
	d, err := ParseDID("did:web:example.org:users:alice")
	require.NoError(t, err)
	require.Equal(t, "web", d.Method)
	require.Equal(t, "example.org:users:alice", d.SpecificID)
	require.Equal(t, "did:web:example.org:users:alice", d.String())
}

func TestParseDIDRejectsMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"did:",
		"did:icn",
		"did:icn:",
		"did::alice",
		"DID:icn:alice", // case-sensitive prefix
		"urn:icn:alice",
	} {
		_, err := ParseDID(bad)
		require.ErrorIs(t, err, ErrInvalidParameters, "input %q should not parse", bad)
	}
}

func TestOrgCategoryKappa(t *testing.T) {
	require.Equal(t, 1.00, OrgCooperative.KappaOrg())
	require.Equal(t, 0.95, OrgCommunity.KappaOrg())
	require.Equal(t, 1.25, OrgFederation.KappaOrg())
	require.Equal(t, 1.10, OrgDefaultFederation.KappaOrg())
	require.Equal(t, 0.70, OrgUnaffiliated.KappaOrg())
}
