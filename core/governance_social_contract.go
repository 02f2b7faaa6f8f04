package core

// governance_social_contract.go – append-only social contract registry
// with bidirectional parent_contract/child_contracts bookkeeping and a
// zap-logged registration flow.

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsentState is one member's consent status for a social contract; only
// Consented and ImplicitConsent are "valid" for quora.
type ConsentState int

const (
	ConsentPending ConsentState = iota
	ConsentConsented
	ConsentDeclined
	ConsentWithdrawn
	ConsentImplicit
)

func (c ConsentState) ValidForQuorum() bool {
	return c == ConsentConsented || c == ConsentImplicit
}

// DefaultAmendmentThreshold is the supermajority yes-share an amendment
// proposal must reach before Amend is called for it.
const DefaultAmendmentThreshold = 0.67

// SemanticVersion is major.minor.patch.
type SemanticVersion struct {
	Major, Minor, Patch uint32
}

func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// SocialContract is `{id, semantic-version, title, description, scope,
// ccl_bytecode_cid, rights[], responsibilities[], resource_flows[],
// governance_mechanisms[], consent_requirements, parent?, predecessor?,
// signature?}`.
type SocialContract struct {
	ID CID
	Version SemanticVersion
	Title string
	Description string
	Scope Scope
	CCLBytecodeCID CID
	Rights []string
	Responsibilities []string
	ResourceFlows []string
	GovernanceMechanisms []string
	ConsentRequirements string
	Parent *CID
	Predecessor *CID
	ChildContracts []CID
	Signature []byte
	CreatorDID DID
	Status string
}

// VersionHistoryEntry is one append-only entry in a contract lineage's
// version history, keyed by a uuid rather than the contract's own CID so
// history survives being looked up independent of content addressing
// (e.g. by an audit tool that only has the lineage root and a sequence
// number, not every intermediate CID).
type VersionHistoryEntry struct {
	EntryID string
	ContractID CID
	Version SemanticVersion
	Predecessor *CID
	RecordedAt time.Time
}

// SocialContractRegistry is the append-only contract registry: contracts
// are never updated in place, only superseded by amendments and forks.
type SocialContractRegistry struct {
	mu sync.Mutex
	contracts map[string]*SocialContract
	byScope map[Scope][]string
	byStatus map[string][]string
	byCreator map[DID][]string
	consent map[string]map[DID]ConsentState // contractID -> member -> state
	versionHistory map[string][]VersionHistoryEntry // lineage root -> entries
	lineageRootOf map[string]string // contractID -> lineage root contractID
	logger *zap.SugaredLogger
}

// NewSocialContractRegistry returns an empty registry.
func NewSocialContractRegistry() *SocialContractRegistry {
	logger, _ := zap.NewProduction()
	return &SocialContractRegistry{
		contracts: make(map[string]*SocialContract),
		byScope: make(map[Scope][]string),
		byStatus: make(map[string][]string),
		byCreator: make(map[DID][]string),
		consent: make(map[string]map[DID]ConsentState),
		versionHistory: make(map[string][]VersionHistoryEntry),
		lineageRootOf: make(map[string]string),
		logger: logger.Sugar(),
	}
}

// lineageRootLocked returns the key under which newVersion's version
// history is tracked: its predecessor's (or parent's) own lineage root if
// one is already known, else its own id (the first version in a new
// lineage). Must be called with r.mu held.
func (r *SocialContractRegistry) lineageRootLocked(sc SocialContract) string {
	for _, ancestor := range []*CID{sc.Predecessor, sc.Parent} {
		if ancestor == nil {
			continue
		}
		if root, ok := r.lineageRootOf[ancestor.String()]; ok {
			return root
		}
		return ancestor.String()
	}
	return sc.ID.String()
}

// Register stores a new social contract as a DAG-addressed, append-only
// entry, updating the by-scope/by-status/by-creator indexes and version
// history.
func (r *SocialContractRegistry) Register(sc SocialContract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sc.ID.String()
	if _, exists := r.contracts[key]; exists {
		return fmt.Errorf("%w: contract %s already registered", ErrAlreadyExists, sc.ID)
	}
	sc.Status = "active"
	r.contracts[key] = &sc
	r.byScope[sc.Scope] = append(r.byScope[sc.Scope], key)
	r.byStatus[sc.Status] = append(r.byStatus[sc.Status], key)
	r.byCreator[sc.CreatorDID] = append(r.byCreator[sc.CreatorDID], key)

	if sc.Parent != nil {
		if parent, ok := r.contracts[sc.Parent.String()]; ok {
			parent.ChildContracts = append(parent.ChildContracts, sc.ID)
		}
	}

	root := r.lineageRootLocked(sc)
	r.lineageRootOf[key] = root
	entry := VersionHistoryEntry{
		EntryID: uuid.NewString(),
		ContractID: sc.ID,
		Version: sc.Version,
		Predecessor: sc.Predecessor,
		RecordedAt: time.Now(),
	}
	r.versionHistory[root] = append(r.versionHistory[root], entry)

	r.logger.Infow("social contract registered", "id", key, "scope", sc.Scope.String(), "version_entry", entry.EntryID)
	return nil
}

// VersionHistory returns the append-only version-history entries for
// contractID's lineage (every amendment and fork descending from the same
// root), ordered by registration.
func (r *SocialContractRegistry) VersionHistory(contractID CID) []VersionHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.lineageRootOf[contractID.String()]
	if !ok {
		return nil
	}
	out := make([]VersionHistoryEntry, len(r.versionHistory[root]))
	copy(out, r.versionHistory[root])
	return out
}

// Amend registers newVersion as a successor to predecessor, linking
// newVersion.Predecessor to it. Amendments are expected to have already
// passed their own supermajority vote (DefaultAmendmentThreshold unless
// the contract's governance mechanisms say otherwise) via the
// GovernanceEngine before being called here — this method only performs
// the append-only bookkeeping.
func (r *SocialContractRegistry) Amend(predecessor CID, newVersion SocialContract) error {
	r.mu.Lock()
	if _, ok := r.contracts[predecessor.String()]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: predecessor contract %s", ErrNotFound, predecessor)
	}
	r.mu.Unlock()

	newVersion.Predecessor = &predecessor
	return r.Register(newVersion)
}

// Fork creates a new contract with Parent set to parentID, and links
// parentID's ChildContracts to the new contract.
func (r *SocialContractRegistry) Fork(parentID CID, child SocialContract) error {
	r.mu.Lock()
	if _, ok := r.contracts[parentID.String()]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: parent contract %s", ErrNotFound, parentID)
	}
	r.mu.Unlock()

	child.Parent = &parentID
	return r.Register(child)
}

// RecordConsent sets member's consent state for contractID.
func (r *SocialContractRegistry) RecordConsent(contractID CID, member DID, state ConsentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := contractID.String()
	if _, ok := r.contracts[key]; !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, contractID)
	}
	if r.consent[key] == nil {
		r.consent[key] = make(map[DID]ConsentState)
	}
	r.consent[key][member] = state
	return nil
}

// QuorumEligibleConsents returns the members whose consent is currently
// valid for quora (Consented or ImplicitConsent).
func (r *SocialContractRegistry) QuorumEligibleConsents(contractID CID) []DID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DID
	for member, state := range r.consent[contractID.String()] {
		if state.ValidForQuorum() {
			out = append(out, member)
		}
	}
	return out
}

// Get returns a copy of the contract's current state.
func (r *SocialContractRegistry) Get(id CID) (SocialContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id.String()]
	if !ok {
		return SocialContract{}, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	return *c, nil
}

// ByScope returns every contract ID registered at scope.
func (r *SocialContractRegistry) ByScope(scope Scope) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.byScope[scope]))
	copy(out, r.byScope[scope])
	return out
}
