package core

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*ManaLedger, DID) {
	t.Helper()
	cfg := ManaLedgerConfig{BaseCapacity: 10_000, NetworkHealth: 1.0}
	l := NewManaLedger(cfg, nil)
	did, err := ParseDID("did:icn:worker1")
	require.NoError(t, err)
	l.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 4, MemoryMB: 4096, UptimePercent: 1, SuccessRate: 1})
	return l, did
}

func TestManaSpendNonNegativeAndCapped(t *testing.T) {
	l, did := newTestLedger(t)
	require.NoError(t, l.SetBalance(did, 500))

	require.NoError(t, l.Spend(did, 200))
	bal, err := l.GetBalance(did)
	require.NoError(t, err)
	require.GreaterOrEqual(t, bal, uint64(0))

	err = l.Spend(did, 1_000_000)
	require.ErrorIs(t, err, ErrInsufficientMana)
}

func TestManaCreditClampedAtCapacity(t *testing.T) {
	l, did := newTestLedger(t)
	acct := l.accounts[did]
	require.NoError(t, l.Credit(did, acct.MaxCapacity+1000))
	bal, err := l.GetBalance(did)
	require.NoError(t, err)
	require.LessOrEqual(t, bal, acct.MaxCapacity)
}

func TestManaConservationOnRefund(t *testing.T) {
	l, did := newTestLedger(t)
	require.NoError(t, l.SetBalance(did, 1000))
	before, err := l.GetBalance(did)
	require.NoError(t, err)

	require.NoError(t, l.Spend(did, 200))
	require.NoError(t, l.Credit(did, 200)) // refund path

	after, err := l.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestManaAccountNotActiveBlocksSpend(t *testing.T) {
	l, did := newTestLedger(t)
	require.NoError(t, l.SetBalance(did, 500))
	require.NoError(t, l.SetStatus(did, StatusFrozen, time.Now().Add(time.Hour), 0))

	err := l.Spend(did, 10)
	require.ErrorIs(t, err, ErrAccountNotActive)
}

func TestManaFrozenStatusExpires(t *testing.T) {
	l, did := newTestLedger(t)
	require.NoError(t, l.SetBalance(did, 500))
	require.NoError(t, l.SetStatus(did, StatusFrozen, time.Now().Add(-time.Second), 0))

	require.NoError(t, l.Spend(did, 10))
}

func TestByzantineThresholdMatchesScenarioS6(t *testing.T) {
	require.Equal(t, 4, ByzantineThreshold(4))
}

func TestRegenerateByzantineRequiresThreshold(t *testing.T) {
	cfg := ManaLedgerConfig{BaseCapacity: 10_000, ByzantineGate: true, ValidatorSetSize: func() int { return 4 }}
	l := NewManaLedger(cfg, nil)
	did, _ := ParseDID("did:icn:worker1")
	l.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 1})

	resolver := NewMemoryKeyResolver()
	validators := make([]DID, 4)
	privs := make([]ed25519.PrivateKey, 4)
	for i := range validators {
		v, _ := ParseDID("did:icn:validator" + string(rune('0'+i)))
		validators[i] = v
		pub, priv, _ := ed25519.GenerateKey(nil)
		privs[i] = priv
		resolver.Register(v, pub)
	}

	proof := []byte("capacity-proof")
	sign := func(i int) ValidatorAttestation {
		return ValidatorAttestation{Validator: validators[i], Signature: ed25519.Sign(privs[i], proof)}
	}

	err := l.RegenerateByzantine(did, resolver, proof, []ValidatorAttestation{sign(0), sign(1), sign(2)})
	require.ErrorIs(t, err, ErrInsufficientConsensus)

	err = l.RegenerateByzantine(did, resolver, proof, []ValidatorAttestation{sign(0), sign(1), sign(2), sign(3)})
	require.NoError(t, err)
}

func TestManaRegenerationAccruesAndCaps(t *testing.T) {
	l, did := newTestLedger(t)
	require.NoError(t, l.SetBalance(did, 100))

	// Backdate the last regeneration one hour so GetBalance accrues a full
	// hour of the regeneration rate.
	l.mu.Lock()
	l.accounts[did].LastRegenUnix = time.Now().Add(-time.Hour).Unix()
	cap := l.accounts[did].MaxCapacity
	l.mu.Unlock()

	bal, err := l.GetBalance(did)
	require.NoError(t, err)
	require.Greater(t, bal, uint64(100), "an hour of elapsed time must regenerate mana")
	require.LessOrEqual(t, bal, cap)

	// A second immediate read accrues nothing further.
	again, err := l.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, bal, again)
}

func TestManaRegenerationNeverExceedsCapacity(t *testing.T) {
	l, did := newTestLedger(t)
	l.mu.Lock()
	acct := l.accounts[did]
	acct.Balance = acct.MaxCapacity
	acct.LastRegenUnix = time.Now().Add(-24 * time.Hour).Unix()
	cap := acct.MaxCapacity
	l.mu.Unlock()

	bal, err := l.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, cap, bal)
}

func TestEmergencyModeSlowsRegeneration(t *testing.T) {
	mkLedger := func(emergency bool) (*ManaLedger, DID) {
		cfg := ManaLedgerConfig{BaseCapacity: 1_000_000, NetworkHealth: 1.0, EmergencyMode: emergency}
		l := NewManaLedger(cfg, nil)
		did, err := ParseDID("did:icn:regen")
		require.NoError(t, err)
		l.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 4, MemoryMB: 4096, UptimePercent: 1, SuccessRate: 1})
		l.mu.Lock()
		l.accounts[did].Balance = 0
		l.accounts[did].LastRegenUnix = time.Now().Add(-time.Hour).Unix()
		l.mu.Unlock()
		return l, did
	}

	normal, did := mkLedger(false)
	normalBal, err := normal.GetBalance(did)
	require.NoError(t, err)

	slowed, did2 := mkLedger(true)
	slowedBal, err := slowed.GetBalance(did2)
	require.NoError(t, err)

	require.Less(t, slowedBal, normalBal, "emergency mode must throttle the regeneration rate")
}
