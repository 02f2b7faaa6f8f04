package core

// crdt_causal.go – the operation-based sync contract layered on top of the
// state-based Merge each CRDT already exposes: apply_operation for
// incorporating one remote op, delta_since for producing the ops a lagging
// peer is missing, and the CausalCRDT capability (vector_clock,
// advance_clock, has_seen) that lets a gossip round decide who is lagging
// without shipping full state every round.

// CRDT is the operation-based half of a replicated data type: it can
// absorb one remote GossipOperation and can report which of its own
// operations a peer at a given VectorClock has not yet observed.
type CRDT interface {
	ApplyOperation(op GossipOperation) error
	DeltaSince(vc *VectorClock) []GossipOperation
}

// CausalCRDT adds causal-delivery bookkeeping on
// top of CRDT: a node's own view of what it has applied, advanced on
// every local mutation, and a dominance check against a peer's clock.
type CausalCRDT interface {
	CRDT
	VectorClock() *VectorClock
	AdvanceClock(node NodeID) uint64
	HasSeen(other *VectorClock) bool
}

// Causal wraps any CRDT with the vector-clock bookkeeping needed to
// satisfy CausalCRDT, without every concrete type (GCounter, LWWRegister,
// ORSet, CRDTMap) having to track its own clock: construction-injected
// generics rather than an inheritance hierarchy.
type Causal[T CRDT] struct {
	inner T
	clock *VectorClock
	self NodeID
}

// NewCausal wraps inner, tracked under self's vector clock.
func NewCausal[T CRDT](inner T, self NodeID) *Causal[T] {
	return &Causal[T]{inner: inner, clock: NewVectorClock(), self: self}
}

// Inner returns the wrapped CRDT for direct local reads/writes.
func (c *Causal[T]) Inner() T { return c.inner }

// ApplyOperation delegates to the wrapped CRDT. The caller (typically
// CRDTRegistry, relaying a GossipMessage) is responsible for folding the
// sender's advertised clock into this wrapper via AdvanceClock/VectorClock
// bookkeeping at the message level, since a single operation does not
// itself carry the sender's full causal context.
func (c *Causal[T]) ApplyOperation(op GossipOperation) error {
	return c.inner.ApplyOperation(op)
}

// DeltaSince delegates to the wrapped CRDT's own since-filtering (each
// concrete type already tracks enough per-writer sequence information in
// its tags to answer this without consulting c.clock).
func (c *Causal[T]) DeltaSince(vc *VectorClock) []GossipOperation {
	return c.inner.DeltaSince(vc)
}

// VectorClock returns a defensive copy of this wrapper's causal view.
func (c *Causal[T]) VectorClock() *VectorClock {
	out := NewVectorClock()
	out.Merge(c.clock)
	return out
}

// AdvanceClock bumps node's component, called whenever a local mutation
// is applied to the wrapped CRDT so it is reflected before the next
// gossip round emits it.
func (c *Causal[T]) AdvanceClock(node NodeID) uint64 {
	return c.clock.Increment(node)
}

// HasSeen reports whether this wrapper's clock dominates-or-equals other.
func (c *Causal[T]) HasSeen(other *VectorClock) bool {
	return c.clock.HasSeen(other)
}
