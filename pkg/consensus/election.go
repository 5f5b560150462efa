package consensus

import (
	"context"
	"sync"
)

// ElectionState is a oneshot cell holding the RandomCoin for one
// (epoch, view), shared between the Core event loop and the halt
// synchronizer goroutine, which waits on it before an optimistic Halt for
// that view goes to commit.
// Exactly one SetCoin call wins; every later caller (and every goroutine
// already waiting) observes the same coin.
type ElectionState struct {
	mu     sync.Mutex
	coin   *RandomCoin
	closed bool
	ready  chan struct{}
}

// NewElectionState returns an empty cell.
func NewElectionState() *ElectionState {
	return &ElectionState{ready: make(chan struct{})}
}

// Coin returns the coin if already set, without blocking.
func (e *ElectionState) Coin() (*RandomCoin, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coin, e.coin != nil
}

// SetCoin installs rc if no coin has been set yet and wakes every waiter.
// It reports alreadySet=true (and leaves the existing coin untouched) if
// this cell was already resolved.
func (e *ElectionState) SetCoin(rc *RandomCoin) (alreadySet bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return true
	}
	e.coin = rc
	e.closed = true
	close(e.ready)
	return false
}

// Abandon wakes every waiter without installing a coin, used at epoch
// cleanup so tasks blocked on a dead epoch re-check the cell, find it
// empty, and drop out instead of waiting forever.
func (e *ElectionState) Abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ready)
}

// Wait blocks until a coin is set or ctx is done. A nil coin with a nil
// error means the cell was abandoned at epoch cleanup.
func (e *ElectionState) Wait(ctx context.Context) (*RandomCoin, error) {
	if coin, ok := e.Coin(); ok {
		return coin, nil
	}
	select {
	case <-e.ready:
		coin, _ := e.Coin()
		return coin, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BAState is a oneshot cell holding the external Binary Agreement adapter's
// decision for an epoch: whether it returned 1 (optimistic commit; take the
// coin-elected leader's block) or 0 (fallback; re-roll the coin at the next
// view).
type BAState struct {
	mu       sync.Mutex
	resolved bool
	decision bool
	ready    chan struct{}

	coin *RandomCoin // set at creation time, known before BA is invoked

	leaderBlock          *Block
	leaderBlockAbandoned bool
	leaderBlockReady     chan struct{}
}

// NewBAState creates a cell for an epoch's BA invocation, already knowing
// the coin (and therefore the elected leader) that invocation is keyed on.
func NewBAState(coin *RandomCoin) *BAState {
	return &BAState{
		ready:            make(chan struct{}),
		coin:             coin,
		leaderBlockReady: make(chan struct{}),
	}
}

// Coin returns the RandomCoin this BA instance was invoked for.
func (b *BAState) Coin() *RandomCoin { return b.coin }

// Resolve installs the BA decision. Only the first call has any effect;
// later calls are no-ops, since a BA instance only ever decides once.
func (b *BAState) Resolve(decision bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return
	}
	b.resolved = true
	b.decision = decision
	close(b.ready)
}

// Result returns the decision if BA has already resolved.
func (b *BAState) Result() (decision bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decision, b.resolved
}

// Wait blocks until BA resolves or ctx is done.
func (b *BAState) Wait(ctx context.Context) (decision bool, err error) {
	if d, ok := b.Result(); ok {
		return d, nil
	}
	select {
	case <-b.ready:
		d, _ := b.Result()
		return d, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SetLeaderBlock installs the coin-elected leader's fully phase-1-proved
// Block, once it becomes locally available (a proved copy already held when
// BA is invoked, the leader's Finish, or a Help reply to this node's own
// RequestHelp). Only the first call has any effect.
func (b *BAState) SetLeaderBlock(block *Block) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leaderBlock != nil || b.leaderBlockAbandoned {
		return
	}
	b.leaderBlock = block
	close(b.leaderBlockReady)
}

// Abandon wakes every waiter on this cell without resolving it, used at
// epoch cleanup: a pending BA wait resolves to 0 and a pending leader-block
// wait yields nil, so both re-check and drop out.
func (b *BAState) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.resolved {
		b.resolved = true
		b.decision = false
		close(b.ready)
	}
	if b.leaderBlock == nil && !b.leaderBlockAbandoned {
		b.leaderBlockAbandoned = true
		close(b.leaderBlockReady)
	}
}

// LeaderBlock returns the leader's block if already known.
func (b *BAState) LeaderBlock() (*Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaderBlock, b.leaderBlock != nil
}

// WaitLeaderBlock blocks until the leader's block is known or ctx is done.
func (b *BAState) WaitLeaderBlock(ctx context.Context) (*Block, error) {
	if block, ok := b.LeaderBlock(); ok {
		return block, nil
	}
	select {
	case <-b.leaderBlockReady:
		block, _ := b.LeaderBlock()
		return block, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
