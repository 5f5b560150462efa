package tcrypto

import (
	"crypto/rand"

	bls "github.com/cloudflare/circl/sign/bls"
)

// This file is kept for the demo BA adapter's own single-bit vote signing
// (pkg/ba), which only needs ordinary same-message signature aggregation,
// not the Lagrange-combination invariance genuine threshold signing needs
// (see threshold.go).

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]
type BLSSignature = []byte

type VoteSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewVoteSignerFromSeed is deterministic given seed; useful for tests.
func NewVoteSignerFromSeed(seed []byte) *VoteSigner {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	pk := sk.PublicKey()
	return &VoteSigner{sk: sk, pk: pk}
}

// NewVoteSigner generates a fresh random vote-signing key pair.
func NewVoteSigner() *VoteSigner {
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	return NewVoteSignerFromSeed(seed)
}

func (s *VoteSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *VoteSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// VerifyVoteSignature checks an ordinary (non-threshold) BLS signature.
func VerifyVoteSignature(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// AggregateVoteSignatures combines signatures over the same message from
// distinct voters. The result is a function of which signers participated;
// it is not Lagrange-invariant and must never stand in for a threshold
// quorum proof.
func AggregateVoteSignatures(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

func VerifyAggregateVoteSignature(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	msgs := make([][]byte, len(pks))
	for i := range msgs {
		msgs[i] = msg
	}
	return bls.VerifyAggregate(pks, msgs, bls.Signature(aggSig))
}
