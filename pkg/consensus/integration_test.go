package consensus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/epochbft/epochbft/pkg/ba"
	"github.com/epochbft/epochbft/pkg/consensus"
	"github.com/epochbft/epochbft/pkg/mempool"
	"github.com/epochbft/epochbft/pkg/store"
	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// bus fans envelopes out between in-process cores, the same stand-in for
// the Transport contract cmd/node's devnet mode uses.
type bus struct {
	mu    sync.RWMutex
	cores map[consensus.AuthorityId]*consensus.Core
}

func (b *bus) register(id consensus.AuthorityId, c *consensus.Core) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cores[id] = c
}

type busTransport struct{ bus *bus }

func (t *busTransport) Transmit(env consensus.Envelope, to *consensus.AuthorityId) error {
	t.bus.mu.RLock()
	defer t.bus.mu.RUnlock()
	if to != nil {
		if c, ok := t.bus.cores[*to]; ok {
			c.Deliver(env)
		}
		return nil
	}
	for id, c := range t.bus.cores {
		if id == env.From {
			continue
		}
		c.Deliver(env)
	}
	return nil
}

// zeroFirstBA wraps the in-process BA adapter, forcing the first round of
// every epoch to decide 0 at every authority so the test deterministically
// drives the fallback coin re-roll; later rounds go through the real hub.
type zeroFirstBA struct {
	inner *ba.Adapter

	mu      sync.Mutex
	forced  map[consensus.EpochNumber]bool
	results chan consensus.BAResult
}

func newZeroFirstBA(ctx context.Context, inner *ba.Adapter) *zeroFirstBA {
	z := &zeroFirstBA{
		inner:   inner,
		forced:  make(map[consensus.EpochNumber]bool),
		results: make(chan consensus.BAResult, 64),
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-inner.Results():
				z.results <- r
			}
		}
	}()
	return z
}

func (z *zeroFirstBA) Invoke(epoch consensus.EpochNumber, input bool) error {
	z.mu.Lock()
	if !z.forced[epoch] {
		z.forced[epoch] = true
		z.mu.Unlock()
		z.results <- consensus.BAResult{Epoch: epoch, Decision: false}
		return nil
	}
	z.mu.Unlock()
	return z.inner.Invoke(epoch, input)
}

func (z *zeroFirstBA) Results() <-chan consensus.BAResult { return z.results }

type cluster struct {
	commits []chan *consensus.Block
}

// startCluster deals keys for n authorities, wires them over a bus, and
// runs every core until ctx is done. makeBA picks the BA adapter flavor.
func startCluster(ctx context.Context, t *testing.T, n int, makeBA func(ctx context.Context, self consensus.AuthorityId, hub *ba.Hub) consensus.BAAdapter) *cluster {
	t.Helper()

	keySet, err := tcrypto.DealThresholdKeys(n, (n+3)/3)
	if err != nil {
		t.Fatalf("deal threshold keys: %v", err)
	}
	signers := make([]*tcrypto.Signer, n)
	authorities := make([]consensus.Authority, n)
	for i := 0; i < n; i++ {
		s, err := tcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		signers[i] = s
		authorities[i] = consensus.Authority{ID: s.Address(), Stake: 1, ShareIndex: i}
	}
	committee := consensus.NewCommittee(authorities, keySet.PublicKeySet())
	hub := ba.NewHub(committee)
	net := &bus{cores: make(map[consensus.AuthorityId]*consensus.Core)}

	cl := &cluster{}
	cores := make([]*consensus.Core, n)
	for i := 0; i < n; i++ {
		i := i
		var coreRef *consensus.Core
		mp := mempool.New(func(block *consensus.Block) {
			coreRef.Deliver(consensus.Envelope{Kind: consensus.KindVal, From: block.Author, Val: &consensus.Val{Block: block}})
		})
		seedCluster(mp, i, n)

		commitCh := make(chan *consensus.Block, 1024)
		cl.commits = append(cl.commits, commitCh)

		core := consensus.NewCore(consensus.Config{
			Self:            signers[i].Address(),
			Committee:       committee,
			Signer:          signers[i],
			ThresholdSigner: keySet.ShareSigner(i),
			Store:           store.NewMemoryStore(),
			Mempool:         mp,
			Transport:       &busTransport{bus: net},
			BA:              makeBA(ctx, signers[i].Address(), hub),
			CommitChannel:   commitCh,
			Logger:          zap.NewNop().Sugar(),
			MaxPayloadSize:  1 << 20,
		})
		coreRef = core
		cores[i] = core
		net.register(signers[i].Address(), core)
	}

	for _, core := range cores {
		go core.Run(ctx)
	}
	return cl
}

func seedCluster(mp *mempool.FIFO, node, n int) {
	for peer := 0; peer < n; peer++ {
		for j := 0; j < 8; j++ {
			var d consensus.Digest
			d[0] = byte(peer)
			d[1] = byte(j)
			if peer == node {
				mp.Submit(d)
			} else {
				mp.MarkAvailable(d)
			}
		}
	}
}

func waitCommit(t *testing.T, ch <-chan *consensus.Block, timeout time.Duration) *consensus.Block {
	t.Helper()
	select {
	case block := <-ch:
		return block
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a commit")
		return nil
	}
}

func TestFourAuthoritiesCommitEpochsIdentically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := startCluster(ctx, t, 4, func(_ context.Context, self consensus.AuthorityId, hub *ba.Hub) consensus.BAAdapter {
		return ba.NewAdapter(self, hub)
	})

	for epoch := consensus.EpochNumber(1); epoch <= 2; epoch++ {
		var want consensus.Digest
		for i, ch := range cl.commits {
			block := waitCommit(t, ch, 90*time.Second)
			if block.Epoch != epoch {
				t.Fatalf("authority %d: expected epoch %d next on the commit channel, got %d", i, epoch, block.Epoch)
			}
			if block.Proof == nil {
				t.Fatalf("authority %d: committed block of epoch %d carries no proof", i, epoch)
			}
			if i == 0 {
				want = block.Digest()
			} else if block.Digest() != want {
				t.Fatalf("authority %d committed a different block for epoch %d", i, epoch)
			}
		}
	}
}

func TestFallbackCoinRerollStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := startCluster(ctx, t, 4, func(ctx context.Context, self consensus.AuthorityId, hub *ba.Hub) consensus.BAAdapter {
		return newZeroFirstBA(ctx, ba.NewAdapter(self, hub))
	})

	var want consensus.Digest
	for i, ch := range cl.commits {
		block := waitCommit(t, ch, 90*time.Second)
		if block.Epoch != 1 {
			t.Fatalf("authority %d: expected epoch 1 first, got %d", i, block.Epoch)
		}
		if i == 0 {
			want = block.Digest()
		} else if block.Digest() != want {
			t.Fatalf("authority %d committed a different block for epoch 1", i)
		}
	}
}
