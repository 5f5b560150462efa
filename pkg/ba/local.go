// Package ba provides the consensus.BAAdapter contract plus a minimal
// in-process implementation sufficient to exercise the Core's BA
// invocation and feedback paths end to end. Binary Agreement's own
// asynchronous Byzantine-safe agreement protocol is explicitly out of
// scope: this is a single-process stand-in, not a general BA
// implementation, and makes no claim of safety under a real adversarial
// network. It exists only so cmd/node has something to invoke.
package ba

import (
	"encoding/binary"
	"sync"

	"github.com/epochbft/epochbft/pkg/consensus"
	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// Hub coordinates in-process BA instances across every locally-registered
// authority. An epoch can run several rounds of BA (the core re-invokes it
// after every fallback coin re-roll), so instances are keyed by
// (epoch, round), where an authority's Nth Invoke for an epoch lands in
// round N; honest authorities invoke in lockstep, so their rounds line up.
// Votes are BLS-signed by the submitting adapter and verified before they
// count. Once a stake-weighted quorum of votes for the same bit has been
// submitted in a round, that bit is the decision for everybody still
// waiting; a genuinely split vote (every authority voted, no single bit at
// quorum) falls back to a deterministic parity tiebreak so the demo never
// hangs.
type Hub struct {
	committee *consensus.Committee

	mu        sync.Mutex
	voters    map[consensus.AuthorityId]*tcrypto.BLSPubKey
	instances map[instanceKey]*instance
}

type instanceKey struct {
	Epoch consensus.EpochNumber
	Round int
}

type instance struct {
	votes    map[consensus.AuthorityId]bool
	sigs     map[consensus.AuthorityId][]byte
	decided  bool
	decision bool
	cert     []byte // aggregate signature of the winning bit's voters
	waiters  []chan consensus.BAResult
}

// NewHub creates a shared coordinator for every local Adapter to register
// with; in a single-node devnet there is exactly one authority and every
// instance decides on its own first (and only) vote.
func NewHub(committee *consensus.Committee) *Hub {
	return &Hub{
		committee: committee,
		voters:    make(map[consensus.AuthorityId]*tcrypto.BLSPubKey),
		instances: make(map[instanceKey]*instance),
	}
}

func (h *Hub) instanceFor(key instanceKey) *instance {
	inst, ok := h.instances[key]
	if !ok {
		inst = &instance{
			votes: make(map[consensus.AuthorityId]bool),
			sigs:  make(map[consensus.AuthorityId][]byte),
		}
		h.instances[key] = inst
	}
	return inst
}

// voteMsg is the byte string a vote signature covers: (epoch, round, bit).
func voteMsg(key instanceKey, input bool) []byte {
	msg := make([]byte, 17)
	binary.BigEndian.PutUint64(msg[0:8], uint64(key.Epoch))
	binary.BigEndian.PutUint64(msg[8:16], uint64(key.Round))
	if input {
		msg[16] = 1
	}
	return msg
}

// vote registers author's signed input bit for an instance and decides once
// a stake-weighted quorum agrees, or once every authority has voted and
// neither bit alone reached quorum (the parity tiebreak).
func (h *Hub) vote(author consensus.AuthorityId, key instanceKey, input bool, sig []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pk, ok := h.voters[author]
	if !ok || !tcrypto.VerifyVoteSignature(pk, sig, voteMsg(key, input)) {
		return
	}

	inst := h.instanceFor(key)
	if inst.decided {
		return
	}
	inst.votes[author] = input
	inst.sigs[author] = sig

	var yesStake, noStake uint64
	for id, v := range inst.votes {
		authority, ok := h.committee.Authority(id)
		if !ok {
			continue
		}
		if v {
			yesStake += authority.Stake
		} else {
			noStake += authority.Stake
		}
	}

	quorum := h.committee.Quorum()
	switch {
	case yesStake >= quorum:
		h.decide(key, inst, true)
	case noStake >= quorum:
		h.decide(key, inst, false)
	case uint64(len(inst.votes)) >= uint64(h.committee.Size()):
		// Every local authority has voted and neither bit reached quorum:
		// break the tie deterministically instead of hanging forever.
		h.decide(key, inst, (uint64(key.Epoch)+uint64(key.Round))%2 == 0)
	}
}

// decide resolves an instance, aggregating the winning bit's vote
// signatures into a certificate; a tiebreak decision may have no votes for
// its bit, in which case the certificate stays empty.
func (h *Hub) decide(key instanceKey, inst *instance, decision bool) {
	inst.decided = true
	inst.decision = decision

	var winningSigs [][]byte
	var winningPKs []*tcrypto.BLSPubKey
	for id, v := range inst.votes {
		if v == decision {
			winningSigs = append(winningSigs, inst.sigs[id])
			winningPKs = append(winningPKs, h.voters[id])
		}
	}
	if len(winningSigs) > 0 {
		cert := tcrypto.AggregateVoteSignatures(winningSigs)
		if tcrypto.VerifyAggregateVoteSignature(winningPKs, voteMsg(key, decision), cert) {
			inst.cert = cert
		}
	}

	for _, w := range inst.waiters {
		w <- consensus.BAResult{Decision: decision}
		close(w)
	}
	inst.waiters = nil
}

// Adapter binds one authority to the shared Hub, implementing
// consensus.BAAdapter for that authority's Core. Each adapter carries its
// own BLS vote-signing key, registered with the hub at construction.
type Adapter struct {
	self   consensus.AuthorityId
	hub    *Hub
	signer *tcrypto.VoteSigner

	mu      sync.Mutex
	rounds  map[consensus.EpochNumber]int
	results chan consensus.BAResult
}

// NewAdapter returns a BAAdapter for self, coordinating through hub.
func NewAdapter(self consensus.AuthorityId, hub *Hub) *Adapter {
	signer := tcrypto.NewVoteSigner()
	hub.mu.Lock()
	hub.voters[self] = signer.Pubkey()
	hub.mu.Unlock()
	return &Adapter{
		self:    self,
		hub:     hub,
		signer:  signer,
		rounds:  make(map[consensus.EpochNumber]int),
		results: make(chan consensus.BAResult, 64),
	}
}

// Invoke signs and submits this authority's input bit for its next round
// of epoch's BA and arranges for the decision to arrive on Results()
// tagged with epoch, once the hub decides that round.
func (a *Adapter) Invoke(epoch consensus.EpochNumber, input bool) error {
	a.mu.Lock()
	a.rounds[epoch]++
	key := instanceKey{Epoch: epoch, Round: a.rounds[epoch]}
	a.mu.Unlock()

	wait := make(chan consensus.BAResult, 1)

	a.hub.mu.Lock()
	inst := a.hub.instanceFor(key)
	if inst.decided {
		decision := inst.decision
		a.hub.mu.Unlock()
		a.results <- consensus.BAResult{Epoch: epoch, Decision: decision}
		return nil
	}
	inst.waiters = append(inst.waiters, wait)
	a.hub.mu.Unlock()

	a.hub.vote(a.self, key, input, a.signer.Sign(voteMsg(key, input)))

	go func() {
		result, ok := <-wait
		if !ok {
			return
		}
		result.Epoch = epoch
		a.results <- result
	}()
	return nil
}

// Results delivers every instance's decision exactly once, tagged by epoch.
func (a *Adapter) Results() <-chan consensus.BAResult { return a.results }

var _ consensus.BAAdapter = (*Adapter)(nil)
