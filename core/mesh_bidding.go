package core

// mesh_bidding.go – bid collection and weighted scoring, with ties broken
// by a deterministic sort.Slice comparator in the same style used by
// governance_federation.go's audit trail ordering.

import (
	"fmt"
	"sort"
	"sync"
)

// BidWeights are the default scoring weights:
// score(bid) = w_price·(1/(price+1)) + w_eta·(1/(eta_ms+1)) +
// w_rep·reputation(bidder) + w_resources·fit(bidder, job).
type BidWeights struct {
	Price float64
	Eta float64
	Rep float64
	Resources float64
}

// DefaultBidWeights returns the defaults.
func DefaultBidWeights() BidWeights {
	return BidWeights{Price: 0.3, Eta: 0.2, Rep: 0.4, Resources: 0.1}
}

// resourceFit scores how well the offered hardware fits the job's implied requirement,
// in [0, 1]. A job with zero declared requirement is trivially a perfect
// fit for anyone; otherwise fit is the ratio of offered to required,
// capped at 1 so overprovisioning cannot inflate score unbounded.
func resourceFit(have, want HardwareMetrics) float64 {
	ratio := func(h, w float64) float64 {
		if w <= 0 {
			return 1
		}
		r := h / w
		if r > 1 {
			r = 1
		}
		if r < 0 {
			r = 0
		}
		return r
	}
	sum := ratio(have.Cores, want.Cores) + ratio(have.MemoryMB, want.MemoryMB) +
		ratio(have.StorageGB, want.StorageGB) + ratio(have.BandwidthMbps, want.BandwidthMbps)
	return sum / 4
}

// BidBoard collects bids for jobs currently in the Bidding state and
// selects a winner.
type BidBoard struct {
	mu sync.Mutex
	bids map[string][]Bid // job id -> bids
	weights BidWeights
	reputation *ReputationStore
}

// NewBidBoard wires a BidBoard over the given reputation store, using the
// default weights.
func NewBidBoard(reputation *ReputationStore) *BidBoard {
	return &BidBoard{bids: make(map[string][]Bid), weights: DefaultBidWeights(), reputation: reputation}
}

// WithWeights overrides the default scoring weights (e.g. for a
// price-sensitive federation policy); returns the board for chaining.
func (b *BidBoard) WithWeights(w BidWeights) *BidBoard {
	b.weights = w
	return b
}

// Submit records a bid for jobID. Bids arriving after the job has left
// Bidding should be rejected by the caller (MeshRuntime state check)
// before reaching here; BidBoard itself does not know job state.
func (b *BidBoard) Submit(jobID CID, bid Bid) error {
	if bid.ExecutorDID.IsZero() {
		return fmt.Errorf("%w: bid missing executor did", ErrInvalidParameters)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := jobID.String()
	b.bids[key] = append(b.bids[key], bid)
	return nil
}

// score computes score(bid) against want.
func (b *BidBoard) score(bid Bid, want HardwareMetrics) float64 {
	rep := 0.0
	if b.reputation != nil {
		rep = b.reputation.Get(bid.ExecutorDID)
	}
	fit := resourceFit(bid.Resources, want)
	return b.weights.Price*(1/(float64(bid.PriceMana)+1)) +
		b.weights.Eta*(1/(float64(bid.EtaMs)+1)) +
		b.weights.Rep*rep +
		b.weights.Resources*fit
}

// SelectWinner scores every bid for jobID against want and returns the
// highest scorer. Ties break by reputation descending, then executor DID
// ascending for determinism. Returns ErrNotFound if no bids
// were submitted (the caller should then transition the job to
// Failed(NoBids) and refund).
func (b *BidBoard) SelectWinner(jobID CID, want HardwareMetrics) (Bid, error) {
	b.mu.Lock()
	bids := append([]Bid(nil), b.bids[jobID.String()]...)
	b.mu.Unlock()

	if len(bids) == 0 {
		return Bid{}, fmt.Errorf("%w: no bids for job %s", ErrNotFound, jobID)
	}

	type scored struct {
		bid Bid
		score float64
		rep float64
	}
	ranked := make([]scored, 0, len(bids))
	for _, bid := range bids {
		rep := 0.0
		if b.reputation != nil {
			rep = b.reputation.Get(bid.ExecutorDID)
		}
		ranked = append(ranked, scored{bid: bid, score: b.score(bid, want), rep: rep})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].rep != ranked[j].rep {
			return ranked[i].rep > ranked[j].rep
		}
		return ranked[i].bid.ExecutorDID.String() < ranked[j].bid.ExecutorDID.String()
	})

	return ranked[0].bid, nil
}

// Clear discards every bid recorded for jobID, called once a winner has
// been assigned or the job has failed.
func (b *BidBoard) Clear(jobID CID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bids, jobID.String())
}

// BidCount reports how many bids are currently recorded for jobID.
func (b *BidBoard) BidCount(jobID CID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bids[jobID.String()])
}
