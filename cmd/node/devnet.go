package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/epochbft/epochbft/params"
	"github.com/epochbft/epochbft/pkg/ba"
	"github.com/epochbft/epochbft/pkg/consensus"
	"github.com/epochbft/epochbft/pkg/mempool"
	"github.com/epochbft/epochbft/pkg/store"
	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// bus is an in-process stand-in for the Transport contract, used by devnet
// mode to run the whole committee as goroutines in one process instead of
// over real libp2p; every authority's Core.Deliver is
// called directly rather than going over the wire. Production wiring uses
// pkg/p2p.Transport instead (see runNetworked).
type bus struct {
	mu    sync.RWMutex
	cores map[consensus.AuthorityId]*consensus.Core
}

func newBus() *bus {
	return &bus{cores: make(map[consensus.AuthorityId]*consensus.Core)}
}

func (b *bus) register(id consensus.AuthorityId, c *consensus.Core) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cores[id] = c
}

// busTransport is the per-authority consensus.Transport handed to each
// devnet Core; it always originates from one fixed authority (env.From is
// set by the Core itself before every Transmit call).
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
			continue // the sender already applied its own broadcast locally
		}
		c.Deliver(env)
	}
	return nil
}

// runDevnet deals one set of threshold keys locally and runs the entire
// committee as in-process goroutines wired through bus, exercising the
// whole pipeline end to end without any real network.
func runDevnet(ctx context.Context, cfg params.Config, logger *zap.SugaredLogger) error {
	n := len(cfg.Consensus.Authorities)
	// Deal shares combinable at the coin threshold, ceil((n+1)/3) for a
	// unit-stake committee.
	dealThreshold := (n + 3) / 3

	keySet, err := tcrypto.DealThresholdKeys(n, dealThreshold)
	if err != nil {
		return err
	}

	signers := make([]*tcrypto.Signer, n)
	for i := range signers {
		s, err := tcrypto.GenerateKey()
		if err != nil {
			return err
		}
		signers[i] = s
	}

	authorities := make([]consensus.Authority, n)
	for i, a := range cfg.Consensus.Authorities {
		authorities[i] = consensus.Authority{ID: signers[i].Address(), Stake: a.Stake, ShareIndex: i}
	}
	committee := consensus.NewCommittee(authorities, keySet.PublicKeySet())
	hub := ba.NewHub(committee)
	commBus := newBus()

	commitCh := make(chan *consensus.Block, 10000)

	var cores []*consensus.Core
	for i := 0; i < n; i++ {
		var coreRef *consensus.Core
		mp := mempool.New(func(block *consensus.Block) {
			if coreRef != nil {
				coreRef.Deliver(consensus.Envelope{Kind: consensus.KindVal, From: block.Author, Val: &consensus.Val{Block: block}})
			}
		})
		seedPayload(mp, i, n)

		core := consensus.NewCore(consensus.Config{
			Self:            signers[i].Address(),
			Committee:       committee,
			Signer:          signers[i],
			ThresholdSigner: keySet.ShareSigner(i),
			Store:           store.NewMemoryStore(),
			Mempool:         mp,
			Transport:       &busTransport{bus: commBus},
			BA:              ba.NewAdapter(signers[i].Address(), hub),
			CommitChannel:   commitCh,
			Logger:          logger.With("authority", signers[i].Address().Hex()),
			VerboseLogging:  cfg.Node.VerboseLogging,
			MaxPayloadSize:  cfg.Consensus.MaxPayloadSize,
		})
		coreRef = core
		commBus.register(signers[i].Address(), core)
		cores = append(cores, core)
	}

	var wg sync.WaitGroup
	for _, core := range cores {
		wg.Add(1)
		go func(c *consensus.Core) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warnw("core exited", "err", err)
			}
		}(core)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case block := <-commitCh:
				logger.Infow("committed", "epoch", block.Epoch, "author", block.Author.Hex())
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

// seedPayload gives node i a supply of sample payload digests to propose,
// and marks every other node's seeded digests as locally available so no
// node suspends on a peer's block waiting for payloads that will never be
// fetched (there is no payload gossip in a devnet, so availability is
// pre-arranged instead).
func seedPayload(mp *mempool.FIFO, node, n int) {
	for peer := 0; peer < n; peer++ {
		for j := 0; j < 64; j++ {
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
