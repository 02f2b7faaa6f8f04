package core

// mana_ledger.go – per-DID regenerative capacity accounting: an
// RWMutex-guarded account map with atomic spend/credit paths. get_balance
// takes the write lock throughout, because reading the effective balance
// requires regenerating first.

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// AccountStatus is the mana account status machine.
type AccountStatus int

const (
	StatusActive AccountStatus = iota
	StatusUnderReview
	StatusFrozen
	StatusPenalized
)

func (s AccountStatus) String() string {
	switch s {
	case StatusUnderReview:
		return "under_review"
	case StatusFrozen:
		return "frozen"
	case StatusPenalized:
		return "penalized"
	default:
		return "active"
	}
}

// ManaAccount is `{did, balance, max_capacity, last_regen_unix, base_rate,
// org_weight, trust_multiplier, participation_factor,
// governance_engagement, federation_bonus, hardware_metrics, status}`.
type ManaAccount struct {
	DID DID
	Balance uint64
	MaxCapacity uint64
	LastRegenUnix int64
	OrgCategory OrgCategory
	TrustMultiplier float64 // β ∈ [0.5, 2.0]
	ParticipationFactor float64 // η ∈ [0.25, 1.5]
	GovernanceEngagement float64
	FederationBonus float64
	Hardware HardwareMetrics
	Status AccountStatus
	StatusUntil time.Time // meaningful for Frozen/Penalized
	PenaltyFactor float64 // meaningful for Penalized
}

// ManaLedgerConfig carries the tunables every ledger instance needs at
// construction (never read from the environment directly).
type ManaLedgerConfig struct {
	BaseCapacity uint64
	NetworkHealth float64 // ∈ [0.5, 1.5]
	EmergencyMode bool
	EmergencyFactor float64 // default 0.25
	GamingDetector GamingDetector
	ByzantineGate bool
	ValidatorSetSize func() int // current N for threshold computation
}

// GamingDetector is the pluggable predicate a ledger consults before
// crediting regeneration: a faithful behavior-history model is out of
// scope here, so this is left as an injected capability with a documented
// contract (see DESIGN.md).
type GamingDetector interface {
	Detect(did DID, history []ExecutionReceipt) (detected bool, confidence float64)
}

// NopGamingDetector never flags anything; the conservative default when no
// detector is configured.
type NopGamingDetector struct{}

func (NopGamingDetector) Detect(DID, []ExecutionReceipt) (bool, float64) { return false, 0 }

// ManaEventType names one kind of ledger mutation in the event log.
type ManaEventType string

const (
	ManaEventSpend ManaEventType = "spend"
	ManaEventCredit ManaEventType = "credit"
	ManaEventRegen ManaEventType = "regen"
	ManaEventSet ManaEventType = "set"
)

// ManaEvent is one append-only event-log entry. The log is what makes a
// post-spend failure elsewhere in the system auditable: the spend itself
// is on record here even when the component that requested it lost track.
type ManaEvent struct {
	Type ManaEventType
	DID DID
	Amount uint64
	Balance uint64 // balance after the mutation
	At time.Time
}

// ManaLedger is a reader-writer-locked in-memory account map. get_balance
// could take a read lock in the simple case, but because regeneration
// must run before any balance is observed, every operation that reads or
// changes a balance takes the write lock throughout; only Events and
// AllAccounts take the read lock.
type ManaLedger struct {
	mu sync.RWMutex
	accounts map[DID]*ManaAccount
	events []ManaEvent
	cfg ManaLedgerConfig
	logger Logger
	networkAvgCompute float64 // rolling average σ input, used to normalize compute score
}

// NewManaLedger constructs an empty ledger.
func NewManaLedger(cfg ManaLedgerConfig, logger Logger) *ManaLedger {
	if cfg.EmergencyFactor == 0 {
		cfg.EmergencyFactor = 0.25
	}
	if cfg.NetworkHealth == 0 {
		cfg.NetworkHealth = 1.0
	}
	if cfg.GamingDetector == nil {
		cfg.GamingDetector = NopGamingDetector{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &ManaLedger{
		accounts: make(map[DID]*ManaAccount),
		cfg: cfg,
		logger: logger,
		networkAvgCompute: 1.0,
	}
}

// OpenAccount creates a new account for did, computing its initial
// max_capacity from org and the current hardware metrics. Calling it for
// an existing DID resets capacity-affecting parameters but preserves
// balance.
func (l *ManaLedger) OpenAccount(did DID, org OrgCategory, hw HardwareMetrics) *ManaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, exists := l.accounts[did]
	if !exists {
		acct = &ManaAccount{
			DID: did,
			TrustMultiplier: 1.0,
			ParticipationFactor: 1.0,
			GovernanceEngagement: 1.0,
			Status: StatusActive,
			LastRegenUnix: time.Now().Unix(),
		}
		l.accounts[did] = acct
	}
	acct.OrgCategory = org
	acct.Hardware = hw
	acct.MaxCapacity = l.maxCapacityFor(acct)
	if acct.Balance > acct.MaxCapacity {
		acct.Balance = acct.MaxCapacity
	}
	return acct
}

// computeScore computes σ from hardware metrics using a fixed weighted
// formula, normalized against the ledger's rolling network average and
// clamped to [0.1, 2.0].
func (l *ManaLedger) computeScore(hw HardwareMetrics) float64 {
	raw := 0.25*hw.Cores +
		0.20*(hw.MemoryMB/1024) +
		0.15*hw.StorageGB +
		0.15*hw.BandwidthMbps +
		0.10*hw.GPUUnits +
		0.10*hw.UptimePercent +
		0.05*hw.SuccessRate

	avg := l.networkAvgCompute
	if avg <= 0 {
		avg = 1.0
	}
	score := raw / avg
	if score < 0.1 {
		score = 0.1
	}
	if score > 2.0 {
		score = 2.0
	}
	return score
}

// maxCapacityFor computes max_capacity:
// BASE_CAP · org_weight · compute_score · governance_engagement · (1 + federation_bonus).
func (l *ManaLedger) maxCapacityFor(acct *ManaAccount) uint64 {
	sigma := l.computeScore(acct.Hardware)
	cap := float64(l.cfg.BaseCapacity) * acct.OrgCategory.KappaOrg() * sigma *
		acct.GovernanceEngagement * (1 + acct.FederationBonus)
	if cap < 0 {
		cap = 0
	}
	return uint64(math.Round(cap))
}

// requireAccount must be called with l.mu held.
func (l *ManaLedger) requireAccount(did DID) (*ManaAccount, error) {
	acct, ok := l.accounts[did]
	if !ok {
		return nil, fmt.Errorf("%w: no mana account for %s", ErrNotFound, did)
	}
	return acct, nil
}

// regenerateLocked applies the regeneration formula to acct in place.
// Must be called with l.mu held for writing.
func (l *ManaLedger) regenerateLocked(acct *ManaAccount) {
	now := time.Now().Unix()
	l.transitionExpiredStatusLocked(acct, time.Unix(now, 0))
	t := now - acct.LastRegenUnix
	if t <= 0 {
		return
	}
	if acct.Status != StatusActive {
		acct.LastRegenUnix = now
		return
	}

	sigma := l.computeScore(acct.Hardware)
	emergency := 1.0
	if l.cfg.EmergencyMode {
		emergency = l.cfg.EmergencyFactor
	}
	rate := acct.OrgCategory.KappaOrg() * sigma * acct.TrustMultiplier *
		acct.ParticipationFactor * l.cfg.NetworkHealth * emergency

	delta := math.Round(rate * 100 * float64(t) / 3600)
	if delta < 0 {
		delta = 0
	}
	newBalance := acct.Balance + uint64(delta)
	if newBalance > acct.MaxCapacity {
		newBalance = acct.MaxCapacity
	}
	if newBalance != acct.Balance {
		l.recordEventLocked(ManaEventRegen, acct.DID, newBalance-acct.Balance, newBalance)
	}
	acct.Balance = newBalance
	acct.LastRegenUnix = now
}

// transitionExpiredStatusLocked returns Frozen/Penalized accounts to
// Active once their until deadline has passed. Must be called with l.mu
// held for writing.
func (l *ManaLedger) transitionExpiredStatusLocked(acct *ManaAccount, now time.Time) {
	switch acct.Status {
	case StatusFrozen, StatusPenalized:
		if !acct.StatusUntil.IsZero() && !now.Before(acct.StatusUntil) {
			acct.Status = StatusActive
			acct.StatusUntil = time.Time{}
			acct.PenaltyFactor = 0
		}
	}
}

// GetBalance regenerates acct then returns its effective balance. This
// takes the write lock throughout rather than upgrading a read lock.
func (l *ManaLedger) GetBalance(did DID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return 0, err
	}
	l.regenerateLocked(acct)
	return acct.Balance, nil
}

// SetBalance overwrites balance directly (administrative use only — e.g.
// snapshot restore), clamped to [0, max_capacity].
func (l *ManaLedger) SetBalance(did DID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return err
	}
	if amount > acct.MaxCapacity {
		amount = acct.MaxCapacity
	}
	acct.Balance = amount
	l.recordEventLocked(ManaEventSet, did, amount, acct.Balance)
	return nil
}

// recordEventLocked appends to the event log. Must be called with l.mu
// held for writing.
func (l *ManaLedger) recordEventLocked(typ ManaEventType, did DID, amount, balance uint64) {
	l.events = append(l.events, ManaEvent{Type: typ, DID: did, Amount: amount, Balance: balance, At: time.Now()})
}

// Events returns a copy of the append-only event log.
func (l *ManaLedger) Events() []ManaEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ManaEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Spend regenerates acct, verifies effective_balance ≥ amount, then
// decrements atomically against regeneration. An account not in
// Active status returns AccountNotActive; Byzantine gating (if enabled)
// is enforced by SpendByzantine instead, not here.
func (l *ManaLedger) Spend(did DID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return err
	}
	l.regenerateLocked(acct)
	if acct.Status != StatusActive {
		return fmt.Errorf("%w: account %s is %s", ErrAccountNotActive, did, acct.Status)
	}
	if acct.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientMana, did, acct.Balance, amount)
	}
	acct.Balance -= amount
	l.recordEventLocked(ManaEventSpend, did, amount, acct.Balance)
	return nil
}

// Credit increases balance by amount, clamped at max_capacity. Crediting
// other DIDs is permitted only from internal refund paths — the
// Host ABI layer enforces that guest code may not call this directly for
// arbitrary DIDs.
func (l *ManaLedger) Credit(did DID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return err
	}
	newBalance := acct.Balance + amount
	if newBalance < acct.Balance { // overflow guard
		newBalance = acct.MaxCapacity
	}
	if newBalance > acct.MaxCapacity {
		newBalance = acct.MaxCapacity
	}
	acct.Balance = newBalance
	l.recordEventLocked(ManaEventCredit, did, amount, acct.Balance)
	return nil
}

// CreditAll credits amount to every account, e.g. a periodic baseline
// stipend independent of individual regeneration.
func (l *ManaLedger) CreditAll(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acct := range l.accounts {
		newBalance := acct.Balance + amount
		if newBalance > acct.MaxCapacity {
			newBalance = acct.MaxCapacity
		}
		acct.Balance = newBalance
		l.recordEventLocked(ManaEventCredit, acct.DID, amount, acct.Balance)
	}
}

// AllAccounts returns a defensive copy of every account.
func (l *ManaLedger) AllAccounts() []ManaAccount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ManaAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	return out
}

// Regenerate runs the regeneration formula for a single account.
func (l *ManaLedger) Regenerate(did DID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return err
	}
	l.regenerateLocked(acct)
	return nil
}

// RegenerateAll runs regeneration across every account, the periodic timer
// loop's entry point.
func (l *ManaLedger) RegenerateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acct := range l.accounts {
		l.regenerateLocked(acct)
	}
}

// SetNetworkAverageCompute updates the rolling network average used to
// normalize σ (the embedding layer recomputes this periodically from
// AllAccounts()'s hardware metrics).
func (l *ManaLedger) SetNetworkAverageCompute(avg float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if avg > 0 {
		l.networkAvgCompute = avg
	}
}

// SetStatus transitions an account's status administratively (e.g. from
// governance action or Byzantine-gated review), per the account status
// machine.
func (l *ManaLedger) SetStatus(did DID, status AccountStatus, until time.Time, penaltyFactor float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.requireAccount(did)
	if err != nil {
		return err
	}
	acct.Status = status
	acct.StatusUntil = until
	acct.PenaltyFactor = penaltyFactor
	return nil
}
