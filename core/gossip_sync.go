package core

// gossip_sync.go – epidemic gossip rounds over CRDT operations and DAG
// blocks. A libp2p host plus a go-libp2p-pubsub GossipSub topic forms the
// transport underneath GossipNode, driving a per-round, per-peer
// anti-entropy exchange of a bounded operation ring buffer.

import (
	"container/ring"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// GossipOperation is one CRDT mutation exchanged over the wire:
// `{crdt_id, crdt_type, operation_bytes, metadata}`.
type GossipOperation struct {
	CRDTID string
	CRDTType string
	OperationBytes []byte
	Metadata map[string]string
	Emitted time.Time
}

// GossipMessage is the wire message:
// `{sender, sender_clock, operations, sequence, timestamp}`.
type GossipMessage struct {
	Sender NodeID
	SenderClock map[NodeID]uint64
	Operations []GossipOperation
	Sequence uint64
	Timestamp int64
}

// OperationSink receives merged remote operations. The embedding layer
// implements this to dispatch into the relevant CRDT instance by
// crdt_id/crdt_type.
type OperationSink interface {
	ApplyRemoteOperation(op GossipOperation) error
}

// GossipConfig carries the tunables for the round loop.
type GossipConfig struct {
	ListenAddr string
	Topic string
	Interval time.Duration
	Fanout int
	LagFraction float64 // default 0.70
	MaxOpsPerMsg int
	OperationTTL time.Duration
	RingBufferSize int
	PingTimeout time.Duration
	UnreachableAfterPings int

	// RatePerSecond and RateBurst throttle outbound per-peer gossip RPCs
	// (defaults: 10/s, burst 10). A round's fanout sends would otherwise
	// fire all at once every interval; the limiter smooths that into the
	// rate the embedding layer's network budget actually allows.
	RatePerSecond float64
	RateBurst int
}

// GossipNode wires a libp2p host + pubsub topic and layers the round
// protocol and anti-entropy ring buffer on top.
type GossipNode struct {
	id NodeID
	host host.Host
	pubsub *pubsub.PubSub
	topic *pubsub.Topic
	sub *pubsub.Subscription
	peers *PeerTable
	clock *VectorClock
	sink OperationSink
	cfg GossipConfig
	logger Logger
	limiter *rate.Limiter

	mu sync.Mutex
	ring *ring.Ring
	ringLen int
	sequence uint64

	cancel context.CancelFunc
}

// NewGossipNode creates and bootstraps a gossip-capable libp2p node:
// construct the host, wrap it in a GossipSub router, join the configured
// topic.
func NewGossipNode(cfg GossipConfig, sink OperationSink, logger Logger) (*GossipNode, error) {
	if logger == nil {
		logger = NopLogger{}
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	if cfg.LagFraction == 0 {
		cfg.LagFraction = 0.70
	}
	if cfg.MaxOpsPerMsg <= 0 {
		cfg.MaxOpsPerMsg = 256
	}
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 1024
	}
	if cfg.UnreachableAfterPings <= 0 {
		cfg.UnreachableAfterPings = 3
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create libp2p host: %v", ErrNetworkError, err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("%w: create gossipsub router: %v", ErrNetworkError, err)
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("%w: join topic %s: %v", ErrNetworkError, cfg.Topic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("%w: subscribe topic %s: %v", ErrNetworkError, cfg.Topic, err)
	}

	n := &GossipNode{
		id: NodeID(h.ID().String()),
		host: h,
		pubsub: ps,
		topic: topic,
		sub: sub,
		peers: NewPeerTable(),
		clock: NewVectorClock(),
		sink: sink,
		cfg: cfg,
		logger: logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		ring: ring.New(cfg.RingBufferSize),
		cancel: cancel,
	}
	return n, nil
}

// ID returns this node's gossip identity.
func (n *GossipNode) ID() NodeID { return n.id }

// Close tears down the pubsub subscription and libp2p host.
func (n *GossipNode) Close() error {
	n.cancel()
	n.sub.Cancel()
	return n.host.Close()
}

// EmitOperation appends op to the local anti-entropy ring buffer for
// inclusion in future gossip rounds, advancing this node's own vector
// clock component.
func (n *GossipNode) EmitOperation(op GossipOperation) {
	op.Emitted = time.Now()
	n.clock.Increment(n.id)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.ring.Value = op
	n.ring = n.ring.Next()
	if n.ringLen < n.cfg.RingBufferSize {
		n.ringLen++
	}
}

// recentOperations returns up to max of the most recently emitted
// operations from the ring buffer, newest first, dropping anything older
// than the configured TTL (anti-entropy buffer).
func (n *GossipNode) recentOperations(max int) []GossipOperation {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := time.Time{}
	if n.cfg.OperationTTL > 0 {
		cutoff = time.Now().Add(-n.cfg.OperationTTL)
	}

	out := make([]GossipOperation, 0, max)
	r := n.ring // the next slot to write; its Prev is the newest operation
	for i := 0; i < n.ringLen && len(out) < max; i++ {
		r = r.Prev()
		op := r.Value.(GossipOperation)
		if !cutoff.IsZero() && op.Emitted.Before(cutoff) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// DialPeer connects to a bootstrap/seed peer address and registers it in
// the peer table.
func (n *GossipNode) DialPeer(ctx context.Context, addrInfo peer.AddrInfo) error {
	if err := n.host.Connect(ctx, addrInfo); err != nil {
		return fmt.Errorf("%w: dial peer %s: %v", ErrNetworkError, addrInfo.ID, err)
	}
	n.peers.Upsert(NodeID(addrInfo.ID.String()), addrInfo.ID.String())
	return nil
}

// RunGossipLoop runs the round protocol at cfg.Interval until ctx is
// canceled. Every iteration checks ctx before starting the next round, so
// shutdown never waits out a full interval mid-send.
func (n *GossipNode) RunGossipLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runRound(ctx)
		}
	}
}

func (n *GossipNode) runRound(ctx context.Context) {
	targets := n.peers.SelectGossipTargets(n.clock, n.cfg.Fanout, n.cfg.LagFraction)
	if len(targets) == 0 {
		return
	}

	n.mu.Lock()
	n.sequence++
	seq := n.sequence
	n.mu.Unlock()

	msg := GossipMessage{
		Sender: n.id,
		SenderClock: n.clock.Snapshot(),
		Operations: n.recentOperations(n.cfg.MaxOpsPerMsg),
		Sequence: seq,
		Timestamp: time.Now().Unix(),
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(peerID NodeID) {
			defer wg.Done()
			roundCtx, cancel := context.WithTimeout(ctx, n.cfg.PingTimeout)
			defer cancel()
			if err := n.limiter.Wait(roundCtx); err != nil {
				n.peers.MarkPingResult(peerID, false, n.cfg.UnreachableAfterPings)
				n.logger.Warnf("gossip round to %s throttled: %v", peerID, err)
				return
			}
			if err := n.sendRound(roundCtx, peerID, msg); err != nil {
				// A failed send is retried in a later round, never blocks
				// the loop.
				n.peers.MarkPingResult(peerID, false, n.cfg.UnreachableAfterPings)
				n.logger.Warnf("gossip round to %s failed: %v", peerID, err)
				return
			}
			n.peers.MarkPingResult(peerID, true, n.cfg.UnreachableAfterPings)
		}(target)
	}
	wg.Wait()
}

// sendRound publishes msg to the topic (the transport substrate for the
// exchange) and then records this node's own clock as peerID's last-known
// clock. No response is awaited and nothing is merged here; operations
// from other nodes arrive only through RunReceiveLoop. A real
// point-to-point RPC transport is an embedding-layer choice, out of scope
// for this core.
func (n *GossipNode) sendRound(ctx context.Context, peerID NodeID, msg GossipMessage) error {
	payload, err := encodeGossipMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: encode gossip message: %v", ErrInternal, err)
	}
	if err := n.topic.Publish(ctx, payload); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrNetworkError, err)
	}
	n.peers.UpdateClock(peerID, n.clock)
	return nil
}

// HandleIncoming applies a received GossipMessage: merges the sender's
// clock and dispatches every operation to the sink.
func (n *GossipNode) HandleIncoming(msg GossipMessage) error {
	remoteClock := NewVectorClock()
	for node, t := range msg.SenderClock {
		remoteClock.Set(node, t)
	}
	n.clock.Merge(remoteClock)
	n.peers.UpdateClock(msg.Sender, remoteClock)

	for _, op := range msg.Operations {
		if err := n.sink.ApplyRemoteOperation(op); err != nil {
			n.logger.Errorf("apply remote operation %s: %v", op.CRDTID, err)
		}
	}
	return nil
}

// RunReceiveLoop drains the pubsub subscription until ctx is canceled,
// decoding each message and folding it in via HandleIncoming. Messages
// this node itself published are skipped — a GossipSub topic echoes a
// node's own publishes back to it.
func (n *GossipNode) RunReceiveLoop(ctx context.Context) {
	for {
		raw, err := n.sub.Next(ctx)
		if err != nil {
			return // subscription canceled or ctx done
		}
		msg, err := decodeGossipMessage(raw.Data)
		if err != nil {
			n.logger.Warnf("drop malformed gossip message from %s: %v", raw.ReceivedFrom, err)
			continue
		}
		if msg.Sender == n.id {
			continue
		}
		if err := n.HandleIncoming(msg); err != nil {
			n.logger.Errorf("handle gossip message from %s: %v", msg.Sender, err)
		}
	}
}

// encodeGossipMessage/decodeGossipMessage serialize the wire message with
// the same length-prefixed discipline as block encoding. Clock entries and
// metadata keys are written in sorted order so two nodes encoding the same
// message produce identical bytes.
func encodeGossipMessage(msg GossipMessage) ([]byte, error) {
	var buf []byte
	buf = appendLPBytes(buf, []byte(msg.Sender))
	buf = appendVarint(buf, msg.Sequence)
	buf = appendVarint(buf, uint64(msg.Timestamp))

	clockNodes := make([]string, 0, len(msg.SenderClock))
	for node := range msg.SenderClock {
		clockNodes = append(clockNodes, string(node))
	}
	sort.Strings(clockNodes)
	buf = appendVarint(buf, uint64(len(clockNodes)))
	for _, node := range clockNodes {
		buf = appendLPBytes(buf, []byte(node))
		buf = appendVarint(buf, msg.SenderClock[NodeID(node)])
	}

	buf = appendVarint(buf, uint64(len(msg.Operations)))
	for _, op := range msg.Operations {
		buf = appendLPBytes(buf, []byte(op.CRDTID))
		buf = appendLPBytes(buf, []byte(op.CRDTType))
		buf = appendLPBytes(buf, op.OperationBytes)
		metaKeys := make([]string, 0, len(op.Metadata))
		for k := range op.Metadata {
			metaKeys = append(metaKeys, k)
		}
		sort.Strings(metaKeys)
		buf = appendVarint(buf, uint64(len(metaKeys)))
		for _, k := range metaKeys {
			buf = appendLPBytes(buf, []byte(k))
			buf = appendLPBytes(buf, []byte(op.Metadata[k]))
		}
	}
	return buf, nil
}

func decodeGossipMessage(raw []byte) (GossipMessage, error) {
	var msg GossipMessage
	rest := raw

	sender, n, err := readLPBytes(rest)
	if err != nil {
		return msg, fmt.Errorf("%w: sender: %v", ErrDeserialization, err)
	}
	rest = rest[n:]
	msg.Sender = NodeID(sender)

	seq, n, err := readVarint(rest)
	if err != nil {
		return msg, fmt.Errorf("%w: sequence: %v", ErrDeserialization, err)
	}
	rest = rest[n:]
	msg.Sequence = seq

	ts, n, err := readVarint(rest)
	if err != nil {
		return msg, fmt.Errorf("%w: timestamp: %v", ErrDeserialization, err)
	}
	rest = rest[n:]
	msg.Timestamp = int64(ts)

	clockLen, n, err := readVarint(rest)
	if err != nil {
		return msg, fmt.Errorf("%w: clock length: %v", ErrDeserialization, err)
	}
	rest = rest[n:]
	msg.SenderClock = make(map[NodeID]uint64, clockLen)
	for i := uint64(0); i < clockLen; i++ {
		node, n, err := readLPBytes(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: clock node: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		tick, n, err := readVarint(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: clock tick: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		msg.SenderClock[NodeID(node)] = tick
	}

	opCount, n, err := readVarint(rest)
	if err != nil {
		return msg, fmt.Errorf("%w: operation count: %v", ErrDeserialization, err)
	}
	rest = rest[n:]
	msg.Operations = make([]GossipOperation, 0, opCount)
	for i := uint64(0); i < opCount; i++ {
		var op GossipOperation
		id, n, err := readLPBytes(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: crdt_id: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		op.CRDTID = string(id)

		typ, n, err := readLPBytes(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: crdt_type: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		op.CRDTType = string(typ)

		body, n, err := readLPBytes(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: operation_bytes: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		op.OperationBytes = body

		metaLen, n, err := readVarint(rest)
		if err != nil {
			return msg, fmt.Errorf("%w: metadata length: %v", ErrDeserialization, err)
		}
		rest = rest[n:]
		if metaLen > 0 {
			op.Metadata = make(map[string]string, metaLen)
		}
		for j := uint64(0); j < metaLen; j++ {
			k, n, err := readLPBytes(rest)
			if err != nil {
				return msg, fmt.Errorf("%w: metadata key: %v", ErrDeserialization, err)
			}
			rest = rest[n:]
			v, n, err := readLPBytes(rest)
			if err != nil {
				return msg, fmt.Errorf("%w: metadata value: %v", ErrDeserialization, err)
			}
			rest = rest[n:]
			op.Metadata[string(k)] = string(v)
		}
		msg.Operations = append(msg.Operations, op)
	}
	return msg, nil
}
