// Package p2p implements the consensus.Transport contract over libp2p: a
// single gossipsub topic carries every broadcast message kind (Val, Echo,
// Finish, RandomnessShare, RandomCoin, Done, Halt, RequestHelp), and a
// direct stream protocol carries unicast Help replies. One topic is enough
// here: every broadcast kind fans out to the same full committee.
package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/epochbft/epochbft/pkg/consensus"
)

const (
	consensusTopic  = "epochbft/consensus/1.0.0"
	unicastProtocol = protocol.ID("/epochbft/unicast/1.0.0")
)

// Transport is a libp2p-gossipsub-backed consensus.Transport: it broadcasts
// every Envelope with no recipient over one pubsub topic and unicasts
// targeted Envelopes over a direct stream to the addressed authority's peer.
type Transport struct {
	h  host.Host
	ps *pubsub.PubSub

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	logger *zap.SugaredLogger

	mu    sync.RWMutex
	peers map[consensus.AuthorityId]peer.ID

	deliver func(consensus.Envelope)
}

// Config bundles Transport's construction-time dependencies.
type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger

	// Deliver is called once per inbound Envelope (broadcast or unicast
	// addressed to this node). Typically wired to Core.Deliver.
	Deliver func(consensus.Envelope)
}

// New starts a libp2p host, joins the consensus gossip topic, and installs
// the unicast stream handler.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("parse listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("new libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("new gossipsub: %w", err)
	}

	t := &Transport{
		h:       h,
		ps:      ps,
		logger:  cfg.Logger,
		peers:   make(map[consensus.AuthorityId]peer.ID),
		deliver: cfg.Deliver,
	}

	for _, addr := range cfg.Bootstrap {
		if err := t.connect(ctx, addr); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", addr, "err", err)
		}
	}

	if t.topic, err = ps.Join(consensusTopic); err != nil {
		return nil, fmt.Errorf("join topic: %w", err)
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	h.SetStreamHandler(unicastProtocol, t.handleUnicastStream)
	go t.readLoop(ctx)

	return t, nil
}

func (t *Transport) connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return t.h.Connect(ctx, *info)
}

// RegisterPeer binds a known committee authority to the libp2p peer ID the
// node wiring expects to reach it at, used to route unicasts (Help replies,
// RequestHelp if ever targeted). Committee config supplies this mapping.
func (t *Transport) RegisterPeer(id consensus.AuthorityId, pid peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = pid
}

func (t *Transport) peerFor(id consensus.AuthorityId) (peer.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pid, ok := t.peers[id]
	return pid, ok
}

// Transmit implements consensus.Transport: broadcast when to is nil,
// unicast over a direct stream otherwise.
func (t *Transport) Transmit(env consensus.Envelope, to *consensus.AuthorityId) error {
	data, err := gobEncode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if to == nil {
		return t.topic.Publish(context.Background(), data)
	}

	pid, ok := t.peerFor(*to)
	if !ok {
		return fmt.Errorf("no known peer id for authority %s", to.Hex())
	}
	s, err := t.h.NewStream(context.Background(), pid, unicastProtocol)
	if err != nil {
		return fmt.Errorf("open unicast stream: %w", err)
	}
	defer s.Close()
	_, err = s.Write(data)
	return err
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			return // ctx canceled or subscription closed
		}
		if msg.ReceivedFrom == t.h.ID() {
			continue // gossipsub echoes our own publishes back
		}
		var env consensus.Envelope
		if err := gobDecode(msg.Data, &env); err != nil {
			if t.logger != nil {
				t.logger.Warnw("discarding malformed envelope", "err", err)
			}
			continue
		}
		t.deliver(env)
	}
}

func (t *Transport) handleUnicastStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var env consensus.Envelope
	if err := gobDecode(data, &env); err != nil {
		if t.logger != nil {
			t.logger.Warnw("discarding malformed unicast envelope", "err", err)
		}
		return
	}
	t.deliver(env)
}

// Host exposes the underlying libp2p host, e.g. for printing this node's
// dialable address at startup.
func (t *Transport) Host() host.Host { return t.h }

var _ consensus.Transport = (*Transport)(nil)
