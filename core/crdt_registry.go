package core

// crdt_registry.go – maps crdt_id to a CausalCRDT instance, giving
// gossip_sync.go a single OperationSink entry point and giving a node's
// own gossip round a single source of "everything a given peer clock is
// missing" across every CRDT it hosts.

import (
	"fmt"
	"sort"
	"sync"
)

// CRDTRegistry indexes every causally-tracked CRDT instance a node hosts,
// keyed by the crdt_id carried on the wire in GossipOperation.
type CRDTRegistry struct {
	mu sync.RWMutex
	entries map[string]CausalCRDT
}

// NewCRDTRegistry returns an empty registry.
func NewCRDTRegistry() *CRDTRegistry {
	return &CRDTRegistry{entries: make(map[string]CausalCRDT)}
}

// Register binds id to crdt, replacing any prior binding under the same
// id.
func (r *CRDTRegistry) Register(id string, crdt CausalCRDT) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = crdt
}

// Get returns the CausalCRDT bound to id, if any.
func (r *CRDTRegistry) Get(id string) (CausalCRDT, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[id]
	return c, ok
}

// ApplyRemoteOperation implements gossip_sync.go's OperationSink: route op
// to whichever CRDT is registered under op.CRDTID.
func (r *CRDTRegistry) ApplyRemoteOperation(op GossipOperation) error {
	r.mu.RLock()
	target, ok := r.entries[op.CRDTID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no crdt registered for id %q", ErrNotFound, op.CRDTID)
	}
	return target.ApplyOperation(op)
}

// DeltaSince returns, across every registered CRDT in stable id order, the
// operations peerClock has not yet observed — the payload a gossip round
// offers a specific lagging peer.
func (r *CRDTRegistry) DeltaSince(peerClock *VectorClock) []GossipOperation {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	snapshot := make(map[string]CausalCRDT, len(r.entries))
	for id, c := range r.entries {
		ids = append(ids, id)
		snapshot[id] = c
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	var out []GossipOperation
	for _, id := range ids {
		for _, op := range snapshot[id].DeltaSince(peerClock) {
			op.CRDTID = id
			out = append(out, op)
		}
	}
	return out
}
