// Package mempool provides the consensus.Mempool contract plus a simple
// FIFO implementation with payload-availability callbacks. Payload content
// and gossip of raw transactions live outside the consensus core; this
// package only tracks which payload digests are locally available and lets
// the core propose batches of them.
package mempool

import (
	"sync"

	"github.com/epochbft/epochbft/pkg/consensus"
)

// OnAvailable is invoked once every payload digest referenced by block
// becomes locally available, letting the core resume processing a Val(Block)
// it earlier held in abeyance.
type OnAvailable func(block *consensus.Block)

// FIFO is a process-local mempool: an ordered queue of pending payload
// digests available for proposal, an availability set used to answer
// Verify, and a registry of blocks waiting on payloads they don't have yet.
type FIFO struct {
	mu sync.Mutex

	pending   []consensus.Digest          // queued, not yet proposed
	available map[consensus.Digest]bool   // locally fetched payload content
	waiting   map[consensus.Digest][]wait // digest -> blocks still missing it

	onAvailable OnAvailable
}

type wait struct {
	block   *consensus.Block
	missing map[consensus.Digest]bool
}

// New creates an empty FIFO mempool. onAvailable is called (from whichever
// goroutine calls MarkAvailable) once a held-back block's payloads are all
// present; callers typically wire it to re-deliver a synthesized Val
// envelope to the Core.
func New(onAvailable OnAvailable) *FIFO {
	return &FIFO{
		available:   make(map[consensus.Digest]bool),
		waiting:     make(map[consensus.Digest][]wait),
		onAvailable: onAvailable,
	}
}

// Submit enqueues a payload digest as both pending-for-proposal and already
// locally available (this node produced or already fetched it).
func (f *FIFO) Submit(digest consensus.Digest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[digest] = true
	f.pending = append(f.pending, digest)
}

// Get drains pending digests up to a maxPayloadSize byte budget (one
// digest = 32 bytes), preserving submission order. A budget smaller than one
// digest (including 0) drains the whole queue.
func (f *FIFO) Get(maxPayloadSize int) []consensus.Digest {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := maxPayloadSize / 32
	if max <= 0 || max > len(f.pending) {
		max = len(f.pending)
	}
	out := append([]consensus.Digest(nil), f.pending[:max]...)
	f.pending = f.pending[max:]
	return out
}

// Verify reports whether every digest in block.Payload is already locally
// available. If not, block is registered to fire onAvailable once
// MarkAvailable closes the gap for every one of its payload digests.
func (f *FIFO) Verify(block *consensus.Block) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	missing := make(map[consensus.Digest]bool)
	for _, d := range block.Payload {
		if !f.available[d] {
			missing[d] = true
		}
	}
	if len(missing) == 0 {
		return true, nil
	}

	w := wait{block: block, missing: missing}
	for d := range missing {
		f.waiting[d] = append(f.waiting[d], w)
	}
	return false, nil
}

// MarkAvailable records digest as locally available (fetched from a peer,
// or already held) and fires onAvailable for every waiting block that is
// now fully satisfied.
func (f *FIFO) MarkAvailable(digest consensus.Digest) {
	f.mu.Lock()
	ready := f.resolve(digest)
	f.mu.Unlock()

	for _, block := range ready {
		if f.onAvailable != nil {
			f.onAvailable(block)
		}
	}
}

func (f *FIFO) resolve(digest consensus.Digest) []*consensus.Block {
	f.available[digest] = true
	waiters := f.waiting[digest]
	delete(f.waiting, digest)

	var ready []*consensus.Block
	for _, w := range waiters {
		delete(w.missing, digest)
		if len(w.missing) == 0 {
			ready = append(ready, w.block)
		}
		// Still missing other digests: w remains registered under each of
		// them from the original Verify call, sharing this same missing
		// map, so no re-indexing is needed here.
	}
	return ready
}

// Cleanup retires a committed block's payload digests: they are no longer
// eligible for re-proposal nor tracked for availability.
func (f *FIFO) Cleanup(block *consensus.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	retired := make(map[consensus.Digest]bool, len(block.Payload))
	for _, d := range block.Payload {
		retired[d] = true
		delete(f.available, d)
		delete(f.waiting, d)
	}
	kept := f.pending[:0]
	for _, d := range f.pending {
		if !retired[d] {
			kept = append(kept, d)
		}
	}
	f.pending = kept
}

var _ consensus.Mempool = (*FIFO)(nil)
