package core

// runtime_context.go – single wiring point for one node's components: no
// global mutable state beyond this handle. A single constructed struct
// threads every subsystem through explicit fields instead of package
// globals.
//
// Lock order is enforced by construction rather than by a runtime
// checker: mana ledger → governance engine → DAG store → gossip peer
// table. Every component here only ever acquires its own lock and calls
// into a "later" component without holding it (see the lock-order
// comments in governance_proposal.go's eligible() and mesh_job.go's
// refund()); RuntimeContext itself holds no lock of its own, since it
// never mutates concurrent state directly.

import (
	"context"
	"fmt"
	"time"
)

// RuntimeContext wires every per-node component together and is the only
// handle a CLI entry point or test harness needs to construct once and
// pass around.
type RuntimeContext struct {
	Config NodeConfig

	Mana *ManaLedger
	Governance *GovernanceEngine
	Roles *RoleStore
	Reputation *ReputationStore
	Contracts *SocialContractRegistry
	Federation *FederationAggregator
	DAG *DAGStore
	Mesh *MeshRuntime
	Bids *BidBoard
	Gossip *GossipNode
	Identity *MemoryKeyResolver
	WasmExecutor *WasmExecutor
	Host *HostABI
	CRDTs *CRDTRegistry

	logger Logger
}

// NewRuntimeContext constructs every component from cfg and wires them
// together in dependency order: mana ledger first (nothing depends on
// anything but itself), then governance and mesh runtime over it, then
// the DAG store, CRDT registry, and gossip layer, then the WASM executor
// and host ABI which reach across all of the above. sink is the
// OperationSink a gossip round dispatches merged remote operations into;
// pass nil to use the newly constructed CRDTRegistry itself (the common
// case — the registry already implements OperationSink), or supply a
// custom one when the embedding layer wants to intercept dispatch. It may
// also be nil in tests that never run RunGossipLoop, since DAGStore still
// needs no sink either way.
func NewRuntimeContext(ctx context.Context, cfg NodeConfig, sink OperationSink, logger Logger) (*RuntimeContext, error) {
	if logger == nil {
		logger = NopLogger{}
	}

	mana := NewManaLedger(cfg.Mana, logger)
	roles := NewRoleStore()
	reputation := NewReputationStore(logger)
	governance := NewGovernanceEngine(cfg.Governance, mana, roles, reputation)
	contracts := NewSocialContractRegistry()
	federation := NewFederationAggregator()

	var dag *DAGStore
	if cfg.DataDir != "" {
		fb, err := NewFileBackend(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		dag = NewDAGStore(fb, logger)
	} else {
		dag = NewDAGStore(NewMemoryBackend(), logger)
	}
	mesh := NewMeshRuntime(cfg.Mesh, mana, logger)
	bids := NewBidBoard(reputation)

	identity := NewMemoryKeyResolver()
	crdts := NewCRDTRegistry()
	if sink == nil {
		sink = crdts
	}

	var gossip *GossipNode
	if cfg.Gossip.ListenAddr != "" {
		g, err := NewGossipNode(cfg.Gossip, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		gossip = g
	}

	executor, err := NewWasmExecutor(cfg.Resources, logger)
	if err != nil {
		return nil, err
	}

	host := NewHostABI(mana, governance, mesh, bids, dag, roles, reputation, identity)

	return &RuntimeContext{
		Config: cfg, Mana: mana, Governance: governance, Roles: roles,
		Reputation: reputation, Contracts: contracts, Federation: federation,
		DAG: dag, Mesh: mesh, Bids: bids, Gossip: gossip, Identity: identity,
		WasmExecutor: executor, Host: host, CRDTs: crdts, logger: logger,
	}, nil
}

// Close releases any resources (the gossip node's libp2p host) held by
// the context. Safe to call even if gossip was never started.
func (rc *RuntimeContext) Close() error {
	if rc.Gossip != nil {
		return rc.Gossip.Close()
	}
	return nil
}

// Tick runs the periodic maintenance sweep an embedding layer's scheduler
// calls once per interval: mana regeneration across every account and
// expiry of overdue governance votes. Both operations only ever take
// their own component's lock, preserving the mana → governance order.
func (rc *RuntimeContext) Tick(now time.Time) {
	rc.Mana.RegenerateAll()
	rc.Governance.ExpireOverdue(now)
}
