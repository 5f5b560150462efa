// Command node runs one epochbft authority: either the whole committee
// in-process (devnet mode) or a single networked authority speaking
// libp2p to the rest of its committee. Env-driven config, zap logging,
// signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/epochbft/epochbft/params"
	"github.com/epochbft/epochbft/pkg/api"
	"github.com/epochbft/epochbft/pkg/ba"
	"github.com/epochbft/epochbft/pkg/consensus"
	"github.com/epochbft/epochbft/pkg/mempool"
	"github.com/epochbft/epochbft/pkg/p2p"
	"github.com/epochbft/epochbft/pkg/store"
	"github.com/epochbft/epochbft/pkg/tcrypto"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (optional)")
	flag.Parse()

	cfg := params.LoadFromEnv(*envPath)

	zapLogger, err := newLogger(cfg.Node.VerboseLogging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var runErr error
	if cfg.Node.Devnet {
		logger.Infow("starting devnet", "authorities", len(cfg.Consensus.Authorities))
		runErr = runDevnet(ctx, cfg, logger)
	} else {
		logger.Infow("starting networked authority", "listen", cfg.Node.ListenAddr)
		runErr = runNetworked(ctx, cfg, logger)
	}

	if runErr != nil && ctx.Err() == nil {
		logger.Fatalw("node exited", "err", runErr)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runNetworked runs a single authority against a real committee over
// libp2p: this process holds one signer and one dealt threshold-signature
// share (SELF_PRIVATE_KEY / THRESHOLD_SHARE_HEX), persists blocks in
// pebble, and exposes /status over HTTP.
func runNetworked(ctx context.Context, cfg params.Config, logger *zap.SugaredLogger) error {
	signer, err := tcrypto.FromPrivateKeyHex(cfg.Node.SelfPrivateKeyHex)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	pubKeySet, err := tcrypto.PublicKeySetFromHex(cfg.Node.ThresholdPublicKeyHex)
	if err != nil {
		return fmt.Errorf("load threshold public key: %w", err)
	}
	tsigner, err := tcrypto.ShareSignerFromHex(cfg.Node.ThresholdShareHex)
	if err != nil {
		return fmt.Errorf("load threshold share: %w", err)
	}

	committee, err := buildCommittee(cfg.Consensus, pubKeySet, signer.Address())
	if err != nil {
		return err
	}

	blockStore, err := store.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var core *consensus.Core
	mp := mempool.New(func(block *consensus.Block) {
		core.Deliver(consensus.Envelope{Kind: consensus.KindVal, From: block.Author, Val: &consensus.Val{Block: block}})
	})

	transport, err := p2p.New(ctx, p2p.Config{
		ListenAddr: cfg.Node.ListenAddr,
		Bootstrap:  cfg.Node.Bootstrap,
		Logger:     logger,
		Deliver:    func(env consensus.Envelope) { core.Deliver(env) },
	})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	for addr, pidStr := range cfg.Node.Peers {
		pid, err := peer.Decode(pidStr)
		if err != nil {
			return fmt.Errorf("decode peer id for %s: %w", addr, err)
		}
		transport.RegisterPeer(common.HexToAddress(addr), pid)
	}

	commitCh := make(chan *consensus.Block, 10000)
	core = consensus.NewCore(consensus.Config{
		Self:            signer.Address(),
		Committee:       committee,
		Signer:          signer,
		ThresholdSigner: tsigner,
		Store:           blockStore,
		Mempool:         mp,
		Transport:       transport,
		BA:              ba.NewAdapter(signer.Address(), ba.NewHub(committee)),
		CommitChannel:   commitCh,
		Logger:          logger,
		VerboseLogging:  cfg.Node.VerboseLogging,
		MaxPayloadSize:  cfg.Consensus.MaxPayloadSize,
	})

	server := api.NewServer(core)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			logger.Warnw("api server exited", "err", err)
		}
	}()

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

	return core.Run(ctx)
}

// buildCommittee resolves the configured authority table into a Committee
// keyed by signer address and checks self is a member of it.
func buildCommittee(cfg params.Consensus, pubKeySet *tcrypto.PublicKeySet, self common.Address) (*consensus.Committee, error) {
	authorities := make([]consensus.Authority, 0, len(cfg.Authorities))
	found := false
	for i, a := range cfg.Authorities {
		addr := common.HexToAddress(a.Address)
		authorities = append(authorities, consensus.Authority{ID: addr, Stake: a.Stake, ShareIndex: i})
		if addr == self {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("self address %s not present in committee config", self.Hex())
	}
	return consensus.NewCommittee(authorities, pubKeySet), nil
}
