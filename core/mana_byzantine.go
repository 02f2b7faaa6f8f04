package core

// mana_byzantine.go – Byzantine-gated mana regeneration/spend variant: a
// pure threshold-counting gate. It counts valid individual Ed25519
// attestations and does not aggregate a BLS/Dilithium multi-signature
// (see DESIGN.md for why those dependencies are not wired here).

import (
	"fmt"
	"math"
)

// ValidatorAttestation is one validator's signed claim that a DID's
// capacity-metrics proof is valid, the unit counted toward the Byzantine
// threshold.
type ValidatorAttestation struct {
	Validator DID
	Signature []byte
}

// ByzantineThreshold returns ⌈2N/3⌉+1 for a validator set of size n
// (N=4 ⇒ 4).
func ByzantineThreshold(n int) int {
	if n <= 0 {
		return 1
	}
	return int(math.Ceil(float64(n)*2.0/3.0)) + 1
}

// countValidAttestations verifies each attestation's signature over
// message against resolver and returns how many distinct validators
// verified, deduplicating repeated attestations from the same validator
// (a single validator cannot count twice toward consensus).
func countValidAttestations(resolver KeyResolver, message []byte, attestations []ValidatorAttestation) int {
	seen := make(map[DID]struct{}, len(attestations))
	for _, a := range attestations {
		if err := Verify(resolver, a.Validator, message, a.Signature); err != nil {
			continue
		}
		seen[a.Validator] = struct{}{}
	}
	return len(seen)
}

// RegenerateByzantine runs regeneration for did only if at least
// ByzantineThreshold(N) distinct validators have attested to the account's
// capacity-metrics proof, where N is taken from
// ManaLedgerConfig.ValidatorSetSize. Returns ErrInsufficientConsensus
// otherwise.
func (l *ManaLedger) RegenerateByzantine(did DID, resolver KeyResolver, proof []byte, attestations []ValidatorAttestation) error {
	if !l.cfg.ByzantineGate {
		return l.Regenerate(did)
	}
	n := 0
	if l.cfg.ValidatorSetSize != nil {
		n = l.cfg.ValidatorSetSize()
	}
	threshold := ByzantineThreshold(n)
	valid := countValidAttestations(resolver, proof, attestations)
	if valid < threshold {
		return fmt.Errorf("%w: got %d of %d required validator attestations", ErrInsufficientConsensus, valid, threshold)
	}
	return l.Regenerate(did)
}

// SpendByzantine is Spend gated the same way: Byzantine consensus on the
// spend proof is required before the balance check proceeds, when
// ByzantineGate is enabled.
func (l *ManaLedger) SpendByzantine(did DID, amount uint64, resolver KeyResolver, proof []byte, attestations []ValidatorAttestation) error {
	if !l.cfg.ByzantineGate {
		return l.Spend(did, amount)
	}
	n := 0
	if l.cfg.ValidatorSetSize != nil {
		n = l.cfg.ValidatorSetSize()
	}
	threshold := ByzantineThreshold(n)
	valid := countValidAttestations(resolver, proof, attestations)
	if valid < threshold {
		return fmt.Errorf("%w: got %d of %d required validator attestations", ErrInsufficientConsensus, valid, threshold)
	}
	return l.Spend(did, amount)
}

// ManaSystemHealthMetrics is a read-only health snapshot over the whole
// ledger, not a single account — used to detect sybil/gaming pressure and
// network-wide regeneration trends.
type ManaSystemHealthMetrics struct {
	ActiveAccounts int
	FrozenAccounts int
	AverageBalance float64
	DetectedGaming int
}

// SystemHealth computes a ManaSystemHealthMetrics snapshot across all
// accounts, running the configured GamingDetector against each DID's
// recent receipt history.
func (l *ManaLedger) SystemHealth(history map[DID][]ExecutionReceipt) ManaSystemHealthMetrics {
	accounts := l.AllAccounts()
	var metrics ManaSystemHealthMetrics
	var balanceSum uint64
	for _, a := range accounts {
		switch a.Status {
		case StatusActive:
			metrics.ActiveAccounts++
		case StatusFrozen:
			metrics.FrozenAccounts++
		}
		balanceSum += a.Balance
		if detected, _ := l.cfg.GamingDetector.Detect(a.DID, history[a.DID]); detected {
			metrics.DetectedGaming++
		}
	}
	if len(accounts) > 0 {
		metrics.AverageBalance = float64(balanceSum) / float64(len(accounts))
	}
	return metrics
}
