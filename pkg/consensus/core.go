package consensus

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// ThresholdSigner produces this authority's threshold signature share; it
// abstracts over tcrypto.ShareSigner so this package never has to import
// kyber directly.
type ThresholdSigner interface {
	Sign(msg []byte) ([]byte, error)
}

const inboxCapacity = 10000

type aggKey struct {
	Epoch EpochNumber
	Tag   Digest
}

type electionKey struct {
	Epoch EpochNumber
	View  ViewNumber
}

type authEpoch struct {
	Author AuthorityId
	Epoch  EpochNumber
}

// Core is the per-authority consensus state machine: one logical thread
// running the SPB pipeline, coin production, Done aggregation, BA
// invocation, and halt-based commit, pipelined across epochs.
type Core struct {
	self      AuthorityId
	committee *Committee
	signer    *tcrypto.Signer
	tsigner   ThresholdSigner

	store     Store
	mempool   Mempool
	transport Transport
	ba        BAAdapter

	logger         *zap.SugaredLogger
	verboseLogging bool

	// inbound channels, all bounded.
	inbox     chan Envelope
	advanceCh chan *Halt
	haltJobs  chan haltJob
	baJobs    chan baJob
	baDone    chan baFeedback

	// Core-owned, single-threaded state: no lock needed, only ever touched
	// from run().
	echoAggregators       map[aggKey]*Aggregator[*Echo]
	finishAggregators     map[aggKey]*Aggregator[*Finish]
	doneAggregators       map[electionKey]*Aggregator[*Done]
	randomnessAggregators map[electionKey]*Aggregator[*RandomnessShare]

	electionStates map[electionKey]*ElectionState
	baStates       map[EpochNumber]*BAState

	blocksReceived        map[authEpoch]*Block
	commitVectorsReceived map[authEpoch]*CommitVector

	// currentEpoch is the epoch this node is actively proposing in; a Halt
	// received for a later epoch halts that epoch without jumping the
	// proposal pipeline over the ones still in flight.
	currentEpoch EpochNumber

	haltMark     EpochNumber
	epochsHalted map[EpochNumber]bool

	// pendingCommits holds halted-but-not-yet-emitted blocks so the commit
	// channel always yields epochs in order, even when Halts arrive ahead
	// of the contiguous frontier.
	pendingCommits map[EpochNumber]*Block

	commitCh chan<- *Block

	maxPayloadSize int

	// status is a point-in-time snapshot published after every commit for
	// read-only external observers (pkg/api); it is never read by the event
	// loop itself, so a plain atomic pointer is enough without touching the
	// single-threaded fields above.
	status atomic.Pointer[Status]
}

// Status is a read-only, concurrency-safe snapshot of a Core's progress,
// published for external observers (e.g. a debug HTTP surface).
type Status struct {
	HaltMark       EpochNumber
	LastCommitted  EpochNumber
	LastCommitHash Digest
}

// Status returns the most recent published snapshot, or a zero Status
// before the first commit.
func (c *Core) Status() Status {
	if s := c.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// Config bundles Core's fixed dependencies and wiring.
type Config struct {
	Self            AuthorityId
	Committee       *Committee
	Signer          *tcrypto.Signer
	ThresholdSigner ThresholdSigner
	Store           Store
	Mempool         Mempool
	Transport       Transport
	BA              BAAdapter
	CommitChannel   chan<- *Block
	Logger          *zap.SugaredLogger
	VerboseLogging  bool
	MaxPayloadSize  int
}

// NewCore wires a Core ready to Run.
func NewCore(cfg Config) *Core {
	return &Core{
		self:                  cfg.Self,
		committee:             cfg.Committee,
		signer:                cfg.Signer,
		tsigner:               cfg.ThresholdSigner,
		store:                 cfg.Store,
		mempool:               cfg.Mempool,
		transport:             cfg.Transport,
		ba:                    cfg.BA,
		logger:                cfg.Logger,
		verboseLogging:        cfg.VerboseLogging,
		inbox:                 make(chan Envelope, inboxCapacity),
		advanceCh:             make(chan *Halt, inboxCapacity),
		haltJobs:              make(chan haltJob, inboxCapacity),
		baJobs:                make(chan baJob, inboxCapacity),
		baDone:                make(chan baFeedback, inboxCapacity),
		echoAggregators:       make(map[aggKey]*Aggregator[*Echo]),
		finishAggregators:     make(map[aggKey]*Aggregator[*Finish]),
		doneAggregators:       make(map[electionKey]*Aggregator[*Done]),
		randomnessAggregators: make(map[electionKey]*Aggregator[*RandomnessShare]),
		electionStates:        make(map[electionKey]*ElectionState),
		baStates:              make(map[EpochNumber]*BAState),
		blocksReceived:        make(map[authEpoch]*Block),
		commitVectorsReceived: make(map[authEpoch]*CommitVector),
		epochsHalted:          make(map[EpochNumber]bool),
		pendingCommits:        make(map[EpochNumber]*Block),
		commitCh:              cfg.CommitChannel,
		maxPayloadSize:        cfg.MaxPayloadSize,
	}
}

// Deliver enqueues an inbound envelope from the transport layer. It never
// blocks longer than the bounded inbox allows; a full inbox is backpressure
// from the network layer, not a Core concern.
func (c *Core) Deliver(env Envelope) {
	c.inbox <- env
}

// Run starts the BA and halt synchronizer goroutines and the Core's single
// event loop. It blocks until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	go runBASynchronizer(ctx, c.self, c.ba, c.transport, c.baJobs, c.baDone, c.logger)
	go runHaltSynchronizer(ctx, c.haltJobs, c.advanceCh, c.logger)

	c.currentEpoch = 1
	if err := c.startNewEpoch(1); err != nil {
		return fmt.Errorf("start initial epoch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env := <-c.inbox:
			c.dispatch(env)

		case halt := <-c.advanceCh:
			c.logErr(c.advance(halt))

		case result := <-c.baDone:
			c.logErr(c.handleBAFeedback(result))
		}
	}
}

func (c *Core) dispatch(env Envelope) {
	var err error
	switch env.Kind {
	case KindVal:
		err = c.handleVal(env.Val)
	case KindEcho:
		err = c.handleEcho(env.Echo)
	case KindFinish:
		err = c.handleFinish(env.Finish)
	case KindRandomnessShare:
		err = c.handleRandomnessShare(env.RandomnessShare)
	case KindRandomCoin:
		err = c.handleRandomCoin(env.RandomCoin)
	case KindDone:
		err = c.handleDone(env.Done)
	case KindHalt:
		err = c.handleHalt(env.Halt)
	case KindRequestHelp:
		err = c.handleRequestHelp(env.RequestHelp)
	case KindHelp:
		err = c.handleHelp(env.Help)
	default:
		err = fmt.Errorf("unknown message kind %v", env.Kind)
	}
	c.logErr(err)
}

func (c *Core) logErr(err error) {
	if err == nil {
		return
	}
	if cerr, ok := err.(*Error); ok {
		switch cerr.Kind {
		case ErrStore, ErrSerialization:
			c.logger.Errorw("infrastructure error", "err", err)
		default:
			c.logger.Warnw("dropped message", "err", err)
		}
		return
	}
	c.logger.Warnw("handler error", "err", err)
}

func (c *Core) liveEpoch(e EpochNumber) bool {
	return e > c.haltMark && !c.epochsHalted[e]
}

// ---- S0/S1: propose and enter PB phase 1 ----------------------------------

func (c *Core) startNewEpoch(epoch EpochNumber) error {
	if c.verboseLogging {
		c.logger.Infow("starting epoch", "epoch", epoch, "optimistic_leader", c.committee.OptimisticLeader(epoch).Hex())
	}
	payload := c.mempool.Get(c.maxPayloadSize)
	block := &Block{Payload: payload, Author: c.self, Epoch: epoch}
	sig, err := c.signer.Sign(block.SigningDigest())
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	block.Signature = sig
	return c.spb(block)
}

// spb stores the node's own block and starts PB phase 1 over it.
func (c *Core) spb(block *Block) error {
	if err := c.writeBlock(block); err != nil {
		return err
	}
	return c.pb(Val{Block: block})
}

// pb records the node's own value, casts its own Echo (both into its own
// aggregator and onto the wire), and broadcasts Val.
func (c *Core) pb(val Val) error {
	c.updateVal(val)

	digest, author, phase, epoch := valIdentity(val)
	if err := c.echo(digest, author, phase, epoch); err != nil {
		return err
	}
	return c.transport.Transmit(Envelope{Kind: KindVal, From: c.self, Val: &val}, nil)
}

func valIdentity(val Val) (digest Digest, author AuthorityId, phase PBPhase, epoch EpochNumber) {
	if val.Block != nil {
		return val.Block.SigningDigest(), val.Block.Author, Phase1, val.Block.Epoch
	}
	return val.CommitVector.SigningDigest(), val.CommitVector.Author, Phase2, val.CommitVector.Epoch
}

// ---- S2: inbound Val, echo it -------------------------------------------

func (c *Core) handleVal(val *Val) error {
	digest, author, phase, epoch := valIdentity(*val)

	if val.Block != nil {
		if err := val.Block.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
			return err
		}
		// Echo at most one value per proposer per phase: a second,
		// conflicting Val from the same author is equivocation and gets no
		// share from this node, so at most one of the two digests can ever
		// assemble an echo quorum.
		if seen, ok := c.blocksReceived[authEpoch{author, epoch}]; ok && seen.SigningDigest() != digest {
			return errDigestMismatch()
		}
		available, err := c.mempool.Verify(val.Block)
		if err != nil {
			return err
		}
		if !available {
			if c.verboseLogging {
				c.logger.Debugw("suspending on missing payload", "digest", digest, "epoch", epoch)
			}
			return nil
		}
		if err := c.writeBlock(val.Block); err != nil {
			return err
		}
	} else {
		if err := val.CommitVector.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
			return err
		}
		if seen, ok := c.commitVectorsReceived[authEpoch{author, epoch}]; ok && seen.SigningDigest() != digest {
			return errDigestMismatch()
		}
	}

	c.updateVal(*val)
	return c.echo(digest, author, phase, epoch)
}

// echo casts this node's signature share over a received value: into its
// own aggregator and broadcast to the committee.
func (c *Core) echo(valueDigest Digest, author AuthorityId, phase PBPhase, epoch EpochNumber) error {
	share, err := c.tsigner.Sign(valueDigest.Bytes())
	if err != nil {
		return fmt.Errorf("sign echo share: %w", err)
	}
	echo := &Echo{
		ValueDigest:    valueDigest,
		DigestAuthor:   author,
		Phase:          phase,
		Epoch:          epoch,
		Author:         c.self,
		SignatureShare: share,
	}
	if err := c.collectEcho(echo); err != nil {
		return err
	}
	return c.transport.Transmit(Envelope{Kind: KindEcho, From: c.self, Echo: echo}, nil)
}

// ---- S2/S3: inbound Echo, aggregate to phase threshold signature --------

func (c *Core) handleEcho(echo *Echo) error {
	// The expected leader of an Echo is whichever authority proposed the
	// value being echoed; echoes are broadcast rather than unicast back to
	// the proposer, so Echo.Verify only needs to know the echo matches
	// DigestAuthor itself.
	if err := echo.Verify(c.committee, echo.DigestAuthor, c.haltMark, c.epochsHalted); err != nil {
		return err
	}
	return c.collectEcho(echo)
}

func (c *Core) collectEcho(echo *Echo) error {
	key := aggKey{Epoch: echo.Epoch, Tag: echo.Digest()}
	agg, ok := c.echoAggregators[key]
	if !ok {
		agg = NewAggregator[*Echo](c.committee.Quorum())
		c.echoAggregators[key] = agg
	}
	authority, ok := c.committee.Authority(echo.Author)
	if !ok {
		return errUnknownAuthority(echo.Author)
	}
	bundle, err := agg.Append(echo.Author, authority.Stake, echo)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}

	// Only the value's own proposer turns an echo quorum into a Finish:
	// everyone collects every instance's echoes, but each authority
	// completes (and announces) just its own value, so each node emits
	// exactly one Finish per phase per epoch.
	if echo.DigestAuthor != c.self {
		return nil
	}

	shares := make([][]byte, 0, len(bundle))
	for _, e := range bundle {
		shares = append(shares, e.SignatureShare)
	}
	sigma, err := c.committee.ThresholdPublicKeySet().CombineSignatures(echo.ValueDigest.Bytes(), shares)
	if err != nil {
		return fmt.Errorf("combine echo shares: %w", err)
	}

	switch echo.Phase {
	case Phase1:
		block, ok := c.blocksReceived[authEpoch{c.self, echo.Epoch}]
		if !ok || block.SigningDigest() != echo.ValueDigest {
			return nil
		}
		proved := *block
		proved.Proof = sigma
		return c.finish(Val{Block: &proved})
	case Phase2:
		cv, ok := c.commitVectorsReceived[authEpoch{c.self, echo.Epoch}]
		if !ok || cv.SigningDigest() != echo.ValueDigest {
			return nil
		}
		proved := *cv
		proved.Proof = sigma
		return c.finish(Val{CommitVector: &proved})
	}
	return nil
}

// ---- S3/S4/S5: Finish, fan into phase-2 or the coin protocol -------------

func (c *Core) finish(val Val) error {
	c.updateVal(val)
	finish := &Finish{Value: val}
	if err := c.handleFinish(finish); err != nil {
		return err
	}
	return c.transport.Transmit(Envelope{Kind: KindFinish, From: c.self, Finish: finish}, nil)
}

func (c *Core) handleFinish(finish *Finish) error {
	val := finish.Value
	var epoch EpochNumber
	var author AuthorityId
	var phase PBPhase

	if val.Block != nil {
		if err := val.Block.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
			return err
		}
		if !val.Block.CheckProof(c.committee) {
			return errInvalidThresholdSignature()
		}
		epoch, author, phase = val.Block.Epoch, val.Block.Author, Phase1
	} else {
		if err := val.CommitVector.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
			return err
		}
		if !val.CommitVector.CheckProof(c.committee) {
			return errInvalidThresholdSignature()
		}
		epoch, author, phase = val.CommitVector.Epoch, val.CommitVector.Author, Phase2
	}

	c.updateVal(val)

	key := aggKey{Epoch: epoch, Tag: finish.Digest()}
	agg, ok := c.finishAggregators[key]
	if !ok {
		agg = NewAggregator[*Finish](c.committee.Quorum())
		c.finishAggregators[key] = agg
	}
	authority, ok := c.committee.Authority(author)
	if !ok {
		return errUnknownAuthority(author)
	}
	bundle, err := agg.Append(author, authority.Stake, finish)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}

	switch phase {
	case Phase1:
		// A quorum of authorities completed PB phase 1: attest to exactly
		// that set and run PB phase 2 over the attestation.
		received := make([]AuthorityId, 0, len(bundle))
		for _, f := range bundle {
			received = append(received, f.Value.Block.Author)
		}
		cv := &CommitVector{Epoch: epoch, Author: c.self, Received: received}
		sig, err := c.signer.Sign(cv.SigningDigest())
		if err != nil {
			return fmt.Errorf("sign commit vector: %w", err)
		}
		cv.Signature = sig
		return c.pb(Val{CommitVector: cv})
	case Phase2:
		// A quorum of authorities completed PB phase 2: hand off to the
		// common coin.
		return c.broadcastRandomnessShare(epoch, 1)
	}
	return nil
}

// ---- S5/S6: the common coin ----------------------------------------------

func (c *Core) broadcastRandomnessShare(epoch EpochNumber, view ViewNumber) error {
	digest := (&RandomnessShare{Epoch: epoch, View: view}).Digest()
	share, err := c.tsigner.Sign(digest.Bytes())
	if err != nil {
		return fmt.Errorf("sign randomness share: %w", err)
	}
	rs := &RandomnessShare{Epoch: epoch, View: view, Author: c.self, SignatureShare: share}
	if err := c.handleRandomnessShare(rs); err != nil {
		return err
	}
	return c.transport.Transmit(Envelope{Kind: KindRandomnessShare, From: c.self, RandomnessShare: rs}, nil)
}

func (c *Core) handleRandomnessShare(rs *RandomnessShare) error {
	if err := rs.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
		return err
	}
	ekey := electionKey{Epoch: rs.Epoch, View: rs.View}
	agg, ok := c.randomnessAggregators[ekey]
	if !ok {
		agg = NewAggregator[*RandomnessShare](c.committee.CoinThreshold())
		c.randomnessAggregators[ekey] = agg
	}
	authority, ok := c.committee.Authority(rs.Author)
	if !ok {
		return errUnknownAuthority(rs.Author)
	}
	bundle, err := agg.Append(rs.Author, authority.Stake, rs)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}

	shares := make([][]byte, 0, len(bundle))
	for _, s := range bundle {
		shares = append(shares, s.SignatureShare)
	}
	combined, err := c.committee.ThresholdPublicKeySet().CombineSignatures(rs.Digest().Bytes(), shares)
	if err != nil {
		return fmt.Errorf("combine randomness shares: %w", err)
	}
	leader := c.committee.ElectLeader(combined)
	coin := &RandomCoin{Author: c.self, Epoch: rs.Epoch, View: rs.View, Leader: leader, ThresholdSig: combined}
	// This node produced the coin itself, so it broadcasts it; a coin
	// first observed on the wire is not re-broadcast (see observeCoin).
	return c.observeCoin(coin, true)
}

// handleRandomCoin processes a coin received from a peer.
func (c *Core) handleRandomCoin(coin *RandomCoin) error {
	return c.observeCoin(coin, false)
}

// observeCoin verifies a coin, installs it into the (epoch, view) election
// cell exactly once, wakes waiters, and enters the Done phase. broadcast is
// set only for a self-combined coin.
func (c *Core) observeCoin(coin *RandomCoin, broadcast bool) error {
	if err := coin.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
		return err
	}

	ekey := electionKey{Epoch: coin.Epoch, View: coin.View}
	state, ok := c.electionStates[ekey]
	if !ok {
		state = NewElectionState()
		c.electionStates[ekey] = state
	}
	if alreadySet := state.SetCoin(coin); alreadySet {
		return nil // this coin was already handled; don't re-multicast or re-Done.
	}

	if broadcast {
		if err := c.transport.Transmit(Envelope{Kind: KindRandomCoin, From: c.self, RandomCoin: coin}, nil); err != nil {
			return err
		}
	}
	return c.broadcastDone(coin)
}

// ---- S7: Done -------------------------------------------------------------

func (c *Core) broadcastDone(coin *RandomCoin) error {
	var proof []byte
	if block, ok := c.blocksReceived[authEpoch{coin.Leader, coin.Epoch}]; ok {
		proof = block.Proof
	}
	done := &Done{Author: c.self, Coin: *coin, Proof: proof}
	if err := c.handleDone(done); err != nil {
		return err
	}
	return c.transport.Transmit(Envelope{Kind: KindDone, From: c.self, Done: done}, nil)
}

func (c *Core) handleDone(done *Done) error {
	if err := done.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
		return err
	}

	// A Done carries its coin, so it may be this node's first sight of the
	// coin for (epoch, view); route it through the election cell first
	// (re-entering this handler once for the node's own Done).
	if err := c.observeCoin(&done.Coin, false); err != nil {
		return err
	}

	ekey := electionKey{Epoch: done.Coin.Epoch, View: done.Coin.View}
	agg, ok := c.doneAggregators[ekey]
	if !ok {
		agg = NewAggregator[*Done](c.committee.Quorum())
		c.doneAggregators[ekey] = agg
	}
	authority, ok := c.committee.Authority(done.Author)
	if !ok {
		return errUnknownAuthority(done.Author)
	}
	bundle, err := agg.Append(done.Author, authority.Stake, done)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}

	input := false
	for _, d := range bundle {
		if d.Proof != nil {
			input = true
			break
		}
	}

	coin, _ := c.electionStates[ekey].Coin()

	baState := NewBAState(coin)
	if block, ok := c.blocksReceived[authEpoch{coin.Leader, coin.Epoch}]; ok && block.Proof != nil {
		baState.SetLeaderBlock(block)
	}
	c.baStates[coin.Epoch] = baState

	c.baJobs <- baJob{epoch: coin.Epoch, input: input, state: baState}
	return nil
}

// ---- S8/S9: BA feedback ---------------------------------------------------

// handleBAFeedback processes the result the BA synchronizer produced: either
// a ready-to-halt leader block (optimistic path) or a signal to re-roll the
// coin at the next view (fallback path).
func (c *Core) handleBAFeedback(fb baFeedback) error {
	if fb.err != nil {
		return fb.err
	}
	if !c.liveEpoch(fb.epoch) {
		return nil // a forwarded Halt won the race; nothing left to decide.
	}
	if fb.optimistic {
		halt := &Halt{Block: *fb.block, Author: c.self}
		c.haltJobs <- haltJob{halt: halt, state: c.electionStates[electionKey{Epoch: fb.epoch, View: fb.coin.View}]}
		return nil
	}

	// Fallback: BA returned 0. Re-roll the coin at the next view.
	return c.broadcastRandomnessShare(fb.epoch, fb.coin.View+1)
}

// handleRequestHelp answers with the leader's fully-proved block if held.
func (c *Core) handleRequestHelp(req *RequestHelp) error {
	if !c.liveEpoch(req.Epoch) {
		return errHaltedEpoch(req.Epoch, c.haltMark)
	}
	if _, ok := c.committee.Authority(req.Requester); !ok {
		return errUnknownAuthority(req.Requester)
	}
	block, ok := c.blocksReceived[authEpoch{req.Leader, req.Epoch}]
	if !ok || block.Proof == nil {
		return nil
	}
	help := &Help{Block: *block}
	return c.transport.Transmit(Envelope{Kind: KindHelp, From: c.self, Help: help}, &req.Requester)
}

// handleHelp verifies a Help reply and wakes any BAState waiting on it.
func (c *Core) handleHelp(help *Help) error {
	if err := help.Block.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
		return err
	}
	if !help.Block.CheckProof(c.committee) {
		return errInvalidThresholdSignature()
	}
	if err := c.writeBlock(&help.Block); err != nil {
		return err
	}
	c.updateVal(Val{Block: &help.Block})
	return nil
}

// ---- S10: commit and roll over -------------------------------------------

func (c *Core) handleHalt(halt *Halt) error {
	if err := halt.Verify(c.committee, c.haltMark, c.epochsHalted); err != nil {
		return err
	}
	// A foreign, already-proved Halt is immediately actionable (Validity):
	// no need to wait on this node's own ElectionState for that epoch.
	c.advanceCh <- halt
	return nil
}

// advance halts an epoch on a fully-proved block: it retires the epoch's
// state, queues the block for in-order commit, forwards the Halt, and rolls
// the proposal pipeline to the next non-halted epoch when the halted epoch
// is the one this node was working in.
func (c *Core) advance(halt *Halt) error {
	epoch := halt.Block.Epoch
	if !c.liveEpoch(epoch) {
		return nil // already halted this epoch; drop the duplicate.
	}

	c.mempool.Cleanup(&halt.Block)
	c.cleanupEpoch(epoch)
	c.pendingCommits[epoch] = &halt.Block
	c.emitReadyCommits()

	if err := c.transport.Transmit(Envelope{Kind: KindHalt, From: c.self, Halt: halt}, nil); err != nil {
		c.logger.Warnw("failed to forward halt", "err", err)
	}

	if epoch == c.currentEpoch {
		return c.startNextEpoch()
	}
	return nil
}

// emitReadyCommits pushes every halted block contiguous with the halt-mark
// to the commit channel, in epoch order; a Halt received ahead of the
// frontier (fast-forward) stays pending until the gap closes.
func (c *Core) emitReadyCommits() {
	for {
		block, ok := c.pendingCommits[c.haltMark+1]
		if !ok {
			return
		}
		select {
		case c.commitCh <- block:
		default:
			panic(fmt.Sprintf("commit channel full at epoch %d: commit is mandatory forward progress", block.Epoch))
		}
		delete(c.pendingCommits, c.haltMark+1)
		c.haltMark++
		delete(c.epochsHalted, c.haltMark)

		c.logger.Infow("committed block", "epoch", block.Epoch, "author", block.Author.Hex())
		c.status.Store(&Status{HaltMark: c.haltMark, LastCommitted: block.Epoch, LastCommitHash: block.Digest()})
	}
}

// startNextEpoch rolls the proposal pipeline forward to the first epoch
// after currentEpoch that has not already halted out from under it.
func (c *Core) startNextEpoch() error {
	next := c.currentEpoch + 1
	for !c.liveEpoch(next) {
		next++
	}
	c.currentEpoch = next
	return c.startNewEpoch(next)
}

func (c *Core) cleanupEpoch(epoch EpochNumber) {
	c.epochsHalted[epoch] = true

	for k := range c.blocksReceived {
		if k.Epoch == epoch {
			delete(c.blocksReceived, k)
		}
	}
	for k := range c.commitVectorsReceived {
		if k.Epoch == epoch {
			delete(c.commitVectorsReceived, k)
		}
	}
	for k := range c.echoAggregators {
		if k.Epoch == epoch {
			delete(c.echoAggregators, k)
		}
	}
	for k := range c.finishAggregators {
		if k.Epoch == epoch {
			delete(c.finishAggregators, k)
		}
	}
	for k := range c.doneAggregators {
		if k.Epoch == epoch {
			delete(c.doneAggregators, k)
		}
	}
	for k := range c.randomnessAggregators {
		if k.Epoch == epoch {
			delete(c.randomnessAggregators, k)
		}
	}
	for k, state := range c.electionStates {
		if k.Epoch == epoch {
			state.Abandon()
			delete(c.electionStates, k)
		}
	}
	if state, ok := c.baStates[epoch]; ok {
		state.Abandon()
		delete(c.baStates, epoch)
	}
}

// ---- shared helpers --------------------------------------------------------

// updateVal caches a received (or locally produced) value, preferring a
// proved copy over an unproved one; a proved block from the coin-elected
// leader additionally wakes any BA synchronizer waiting on it, whichever
// message carried it here (Finish, Help, or a late aggregation).
func (c *Core) updateVal(val Val) {
	if val.Block != nil {
		key := authEpoch{val.Block.Author, val.Block.Epoch}
		if existing, ok := c.blocksReceived[key]; !ok || existing.Proof == nil {
			c.blocksReceived[key] = val.Block
		}
		if val.Block.Proof == nil {
			return
		}
		if state, ok := c.baStates[val.Block.Epoch]; ok && state.Coin().Leader == val.Block.Author {
			state.SetLeaderBlock(val.Block)
		}
		return
	}
	key := authEpoch{val.CommitVector.Author, val.CommitVector.Epoch}
	if existing, ok := c.commitVectorsReceived[key]; !ok || existing.Proof == nil {
		c.commitVectorsReceived[key] = val.CommitVector
	}
}

func (c *Core) writeBlock(block *Block) error {
	bytes, err := encodeBlock(block)
	if err != nil {
		return errSerialization(err)
	}
	if err := c.store.Write(context.Background(), block.Digest(), bytes); err != nil {
		return errStore(err)
	}
	return nil
}
