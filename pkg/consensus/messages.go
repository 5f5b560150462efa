package consensus

import (
	"fmt"
	"sort"

	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// VerifySignature reports whether sig is author's ordinary signature over
// hash, delegating to the secp256k1 recovery check in pkg/tcrypto.
func VerifySignature(author AuthorityId, hash Digest, sig []byte) bool {
	return tcrypto.VerifySignature(author, hash, sig)
}

// Val is the "oneof" carried by PB: either a proposed Block (phase 1) or a
// CommitVector (phase 2). Exactly one field is non-nil.
type Val struct {
	Block        *Block
	CommitVector *CommitVector
}

func (v Val) Epoch() EpochNumber {
	if v.Block != nil {
		return v.Block.Epoch
	}
	return v.CommitVector.Epoch
}

func (v Val) String() string {
	if v.Block != nil {
		return v.Block.String()
	}
	return v.CommitVector.String()
}

// Block is the phase-1 value: an authority's proposed batch of payload
// digests, carrying an optional threshold-signed proof of phase-1 echo
// quorum once one has been assembled.
type Block struct {
	Payload   []Digest
	Author    AuthorityId
	Signature []byte
	Epoch     EpochNumber
	Proof     []byte // combined threshold signature over SigningDigest(), nil until echoed to quorum
}

// Digest covers (author, epoch, payload digests, proof-presence bit).
func (b *Block) Digest() Digest {
	parts := make([][]byte, 0, len(b.Payload)+3)
	parts = append(parts, b.Author.Bytes(), epochBytes(b.Epoch))
	for _, p := range b.Payload {
		parts = append(parts, p.Bytes())
	}
	parts = append(parts, proofPresenceByte(b.Proof))
	return digest(parts...)
}

func (b *Block) String() string { return fmt.Sprintf("B(%s, epoch %d)", b.Author.Hex(), b.Epoch) }

// SigningDigest is the digest of the proof-absent form of the block: the
// form the author originally signed and the form every phase-1 echo share
// was cast over. Attaching a proof flips the presence bit and changes
// Digest(), but signatures keep verifying against this stable form.
func (b *Block) SigningDigest() Digest {
	unproved := *b
	unproved.Proof = nil
	return unproved.Digest()
}

// Verify checks epoch freshness, voting rights, and the author's ordinary
// signature over the block's signing digest. It does not check Proof;
// callers that require a proved block (Halt, optimistic commit) call
// CheckProof separately.
func (b *Block) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if b.Epoch <= haltMark || haltedEpochs[b.Epoch] {
		return errHaltedEpoch(b.Epoch, haltMark)
	}
	if _, ok := c.Authority(b.Author); !ok {
		return errUnknownAuthority(b.Author)
	}
	if !VerifySignature(b.Author, b.SigningDigest(), b.Signature) {
		return errInvalidSignature(b.Author)
	}
	return nil
}

// CheckProof verifies the combined threshold signature attached as Proof
// against the signing digest, proving an echo quorum signed this exact
// proof-absent form.
func (b *Block) CheckProof(c *Committee) bool {
	if b.Proof == nil {
		return false
	}
	return c.ThresholdPublicKeySet().VerifySignature(b.SigningDigest().Bytes(), b.Proof) == nil
}

// CommitVector is the phase-2 value: an authority's attestation of which
// committee members it received a proved Block from, once it holds at
// least a quorum of them.
type CommitVector struct {
	Epoch     EpochNumber
	Author    AuthorityId
	Signature []byte
	Received  []AuthorityId
	Proof     []byte
}

// Digest covers (epoch, author, proof-presence bit, sorted received set).
func (cv *CommitVector) Digest() Digest {
	received := append([]AuthorityId(nil), cv.Received...)
	sort.Slice(received, func(i, j int) bool { return received[i].Hex() < received[j].Hex() })

	parts := make([][]byte, 0, len(received)+3)
	parts = append(parts, epochBytes(cv.Epoch), cv.Author.Bytes(), proofPresenceByte(cv.Proof))
	for _, a := range received {
		parts = append(parts, a.Bytes())
	}
	return digest(parts...)
}

func (cv *CommitVector) String() string { return fmt.Sprintf("CV(%s, epoch %d)", cv.Author.Hex(), cv.Epoch) }

// SigningDigest is the digest of the proof-absent form, the form the author
// signed and phase-2 echo shares were cast over; see Block.SigningDigest.
func (cv *CommitVector) SigningDigest() Digest {
	unproved := *cv
	unproved.Proof = nil
	return unproved.Digest()
}

// Verify checks epoch freshness, voting rights, the ordinary signature, and
// that Received names at least a quorum of distinct committee members.
func (cv *CommitVector) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if cv.Epoch <= haltMark || haltedEpochs[cv.Epoch] {
		return errHaltedEpoch(cv.Epoch, haltMark)
	}
	if _, ok := c.Authority(cv.Author); !ok {
		return errUnknownAuthority(cv.Author)
	}
	if !VerifySignature(cv.Author, cv.SigningDigest(), cv.Signature) {
		return errInvalidSignature(cv.Author)
	}
	seen := make(map[AuthorityId]bool, len(cv.Received))
	var count uint64
	for _, id := range cv.Received {
		if _, ok := c.Authority(id); ok && !seen[id] {
			seen[id] = true
			count++
		}
	}
	if count < c.Quorum() {
		return errInvalidCommitVector(count, c.Quorum())
	}
	return nil
}

func (cv *CommitVector) CheckProof(c *Committee) bool {
	if cv.Proof == nil {
		return false
	}
	return c.ThresholdPublicKeySet().VerifySignature(cv.SigningDigest().Bytes(), cv.Proof) == nil
}

// Echo is a threshold signature share over a Block or CommitVector digest,
// cast by every authority that accepts the leader's value for a PB phase.
type Echo struct {
	ValueDigest    Digest
	DigestAuthor   AuthorityId // the proposer of the value being echoed
	Phase          PBPhase
	Epoch          EpochNumber
	Author         AuthorityId
	SignatureShare []byte
}

// Digest is keyed by (epoch, phase, proposer, value digest, "ECHO"): every
// Echo over the same proposed value shares one digest, so the aggregator
// buckets per (epoch, digest). Both PB phases run one concurrent instance
// per authority (each node's own Block, then its own CommitVector);
// DigestAuthor keeps those instances apart, and ValueDigest keeps two
// conflicting values from the same equivocating proposer in separate
// buckets so neither inherits the other's shares.
func (e *Echo) Digest() Digest {
	return digest(epochBytes(e.Epoch), []byte{byte(e.Phase)}, e.DigestAuthor.Bytes(), e.ValueDigest.Bytes(), []byte("ECHO"))
}

// Verify checks epoch freshness, that the echo targets the expected leader's
// value, voting rights, and the threshold signature share against
// ValueDigest.
func (e *Echo) Verify(c *Committee, expectedLeader AuthorityId, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if e.Epoch <= haltMark || haltedEpochs[e.Epoch] {
		return errHaltedEpoch(e.Epoch, haltMark)
	}
	if e.DigestAuthor != expectedLeader {
		return errWrongLeader(e.DigestAuthor, expectedLeader)
	}
	if _, ok := c.Authority(e.Author); !ok {
		return errUnknownAuthority(e.Author)
	}
	if err := c.ThresholdPublicKeySet().VerifySignatureShare(e.ValueDigest.Bytes(), e.SignatureShare); err != nil {
		return errInvalidSignatureShare(e.Author)
	}
	return nil
}

// Finish carries a fully-echoed Val (its Proof is set) forward to the next
// PB phase (or, for phase 2, to the common-coin step).
type Finish struct {
	Value Val
}

// Digest is keyed by (epoch, "PB1_FINISH") or (epoch, "PB2_FINISH"): one
// bucket per PB phase per epoch, counting how many distinct authorities
// completed that phase, regardless of whose value each Finish carries.
func (f *Finish) Digest() Digest {
	if f.Value.Block != nil {
		return digest(epochBytes(f.Value.Block.Epoch), []byte("PB1_FINISH"))
	}
	return digest(epochBytes(f.Value.CommitVector.Epoch), []byte("PB2_FINISH"))
}

// RandomnessShare is an authority's threshold signature share toward the
// epoch's common coin.
type RandomnessShare struct {
	Epoch          EpochNumber
	View           ViewNumber
	Author         AuthorityId
	SignatureShare []byte
}

// Digest is keyed by (epoch, view, "RANDOMNESS_SHARE"). This is also the
// message the combined RandomCoin.ThresholdSig is a signature over.
func (r *RandomnessShare) Digest() Digest {
	return digest(epochBytes(r.Epoch), viewBytes(r.View), []byte("RANDOMNESS_SHARE"))
}

func (r *RandomnessShare) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if r.Epoch <= haltMark || haltedEpochs[r.Epoch] {
		return errHaltedEpoch(r.Epoch, haltMark)
	}
	if _, ok := c.Authority(r.Author); !ok {
		return errUnknownAuthority(r.Author)
	}
	if err := c.ThresholdPublicKeySet().VerifySignatureShare(r.Digest().Bytes(), r.SignatureShare); err != nil {
		return errInvalidSignatureShare(r.Author)
	}
	return nil
}

// RandomCoin is the combined threshold signature over a RandomnessShare
// digest, deterministically electing this view's leader.
type RandomCoin struct {
	Author       AuthorityId
	Epoch        EpochNumber
	View         ViewNumber
	Leader       AuthorityId
	ThresholdSig []byte
}

// signingDigest is the RandomnessShare digest the combined signature is
// over; distinct from Digest(), which merely identifies this RandomCoin
// message on the wire.
func (rc *RandomCoin) signingDigest() Digest {
	return digest(epochBytes(rc.Epoch), viewBytes(rc.View), []byte("RANDOMNESS_SHARE"))
}

func (rc *RandomCoin) Digest() Digest {
	return digest(epochBytes(rc.Epoch), viewBytes(rc.View), []byte("RANDOM_COIN"))
}

// Verify checks epoch freshness, the combined threshold signature, and that
// Leader matches the deterministic index the signature elects.
func (rc *RandomCoin) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if rc.Epoch <= haltMark || haltedEpochs[rc.Epoch] {
		return errHaltedEpoch(rc.Epoch, haltMark)
	}
	if err := c.ThresholdPublicKeySet().VerifySignature(rc.signingDigest().Bytes(), rc.ThresholdSig); err != nil {
		return errInvalidThresholdSignature()
	}
	if leader := c.ElectLeader(rc.ThresholdSig); leader != rc.Leader {
		return errWrongLeader(rc.Leader, leader)
	}
	return nil
}

// Done signals that an authority holds a valid RandomCoin and is ready to
// invoke the Binary Agreement adapter; it carries a proof (the Proof of the
// leader's block, if this node already holds a proved copy) to shortcut the
// optimistic path.
type Done struct {
	Author AuthorityId
	Coin   RandomCoin
	Proof  []byte
}

func (d *Done) Digest() Digest {
	return digest(epochBytes(d.Coin.Epoch), viewBytes(d.Coin.View), []byte("DONE"))
}

func (d *Done) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if _, ok := c.Authority(d.Author); !ok {
		return errUnknownAuthority(d.Author)
	}
	return d.Coin.Verify(c, haltMark, haltedEpochs)
}

// Halt carries the leader's fully-proved Block and is multicast once an
// authority commits, letting every peer catch up without waiting on its own
// BA round.
type Halt struct {
	Block  Block
	Author AuthorityId
}

func (h *Halt) Digest() Digest {
	return digest(epochBytes(h.Block.Epoch), h.Block.Author.Bytes(), []byte("HALT"))
}

func (h *Halt) Verify(c *Committee, haltMark EpochNumber, haltedEpochs map[EpochNumber]bool) error {
	if _, ok := c.Authority(h.Author); !ok {
		return errUnknownAuthority(h.Author)
	}
	if err := h.Block.Verify(c, haltMark, haltedEpochs); err != nil {
		return err
	}
	if !h.Block.CheckProof(c) {
		return errInvalidThresholdSignature()
	}
	return nil
}

// RequestHelp asks any peer holding the named leader's proved block for this
// epoch to send it back, used when BA returns 1 but the local node never
// received (or echoed) that block itself.
type RequestHelp struct {
	Epoch     EpochNumber
	Requester AuthorityId
	Leader    AuthorityId
}

// Help answers a RequestHelp with the requested proved Block.
type Help struct {
	Block Block
}

func proofPresenceByte(proof []byte) []byte {
	if proof != nil {
		return []byte{1}
	}
	return []byte{0}
}
