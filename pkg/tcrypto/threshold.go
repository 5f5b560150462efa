package tcrypto

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/pairing/bn256"
	"go.dedis.ch/kyber/v4/share"
	"go.dedis.ch/kyber/v4/sign/tbls"
)

// suite is shared process-wide; bn256 is the same pairing group drand
// builds its BLS threshold beacon on. Signatures live on G1, public key
// material on G2 (scheme-on-G1).
var (
	suite           = bn256.NewSuiteG2()
	thresholdScheme = tbls.NewThresholdSchemeOnG1(suite)
)

func init() {
	// Registers the concrete point/scalar implementations so gob can encode
	// the kyber.Point/kyber.Scalar interface fields in marshaledPubPoly and
	// share.PriShare below (the same gob.Register pattern pkg/p2p/wire.go
	// uses for consensus.Envelope).
	gob.Register(suite.G2().Point())
	gob.Register(suite.G2().Scalar())
}

// ThresholdKeySet is the dealt output of a (t,n) distributed key generation:
// one secret share per authority plus the public commitments needed to
// verify individual shares and the combined group signature. Real deployments
// replace the trusted dealer with a DKG; that is out of scope here.
type ThresholdKeySet struct {
	threshold int
	priShares []*share.PriShare
	pubPoly   *share.PubPoly
}

// DealThresholdKeys runs a trusted-dealer (t,n) setup: any t of the n shares
// combine to the same group signature, regardless of which t contributed.
func DealThresholdKeys(n, threshold int) (*ThresholdKeySet, error) {
	if threshold < 1 || threshold > n {
		return nil, fmt.Errorf("invalid threshold %d for n=%d", threshold, n)
	}
	secret := suite.G2().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), uint32(threshold), secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	return &ThresholdKeySet{
		threshold: threshold,
		priShares: priPoly.Shares(uint32(n)),
		pubPoly:   pubPoly,
	}, nil
}

// PrivateShare returns the secret share for committee index i (0-based).
func (k *ThresholdKeySet) PrivateShare(i int) *share.PriShare { return k.priShares[i] }

// PublicKeySet exposes only the public material, safe to distribute to every
// authority and to embed in the committee configuration.
func (k *ThresholdKeySet) PublicKeySet() *PublicKeySet {
	return &PublicKeySet{threshold: k.threshold, n: len(k.priShares), pubPoly: k.pubPoly}
}

// PublicKeySet verifies individual signature shares and combines a quorum of
// them into the single group signature any qualifying quorum subset produces.
type PublicKeySet struct {
	threshold int
	n         int
	pubPoly   *share.PubPoly
}

// Threshold is the minimum number of shares CombineSignatures needs.
func (p *PublicKeySet) Threshold() int { return p.threshold }

// PublicKey returns the group public key, used to verify the combined
// signature independent of which authorities contributed shares.
func (p *PublicKeySet) PublicKey() []byte {
	b, _ := p.pubPoly.Commit().MarshalBinary()
	return b
}

// ShareSigner binds one authority's private share so callers don't need to
// import go.dedis.ch/kyber/v4/share themselves.
type ShareSigner struct {
	priShare *share.PriShare
}

// ShareSigner returns a signer bound to committee index i's private share.
func (k *ThresholdKeySet) ShareSigner(i int) *ShareSigner {
	return &ShareSigner{priShare: k.priShares[i]}
}

// Sign produces this authority's threshold signature share over msg. The
// share carries its own index prefix, which is how CombineSignatures later
// matches it to the right public commitment.
func (s *ShareSigner) Sign(msg []byte) ([]byte, error) {
	return thresholdScheme.Sign(s.priShare, msg)
}

// VerifySignatureShare checks a single authority's signature share over msg
// against its public commitment, so handlers can reject a bad share before
// it ever reaches an aggregator.
func (p *PublicKeySet) VerifySignatureShare(msg, sigShare []byte) error {
	return thresholdScheme.VerifyPartial(p.pubPoly, msg, sigShare)
}

// CombineSignatures Lagrange-combines threshold valid shares into the group
// signature. The result is identical no matter which qualifying subset of
// at least Threshold() shares is supplied — the property the coin and the
// PB quorum proofs depend on.
func (p *PublicKeySet) CombineSignatures(msg []byte, shares [][]byte) ([]byte, error) {
	if len(shares) < p.threshold {
		return nil, fmt.Errorf("have %d shares, need %d", len(shares), p.threshold)
	}
	n := p.n
	if n < len(shares) {
		n = len(shares)
	}
	return thresholdScheme.Recover(p.pubPoly, msg, shares, uint32(p.threshold), uint32(n))
}

// VerifySignature checks a combined group signature against the group
// public key, independent of the contributing subset.
func (p *PublicKeySet) VerifySignature(msg, sig []byte) error {
	return thresholdScheme.VerifyRecovered(p.pubPoly.Commit(), msg, sig)
}

// marshaledPubPoly is the wire form of a PublicKeySet: the dealer distributes
// this once, out of band, to every authority.
type marshaledPubPoly struct {
	Threshold int
	N         int
	Base      kyber.Point
	Commits   []kyber.Point
}

// Hex encodes the group threshold public key material for distribution via
// config (THRESHOLD_PUBLIC_KEY_HEX), the same way Signer addresses travel as
// hex strings in the committee table.
func (p *PublicKeySet) Hex() (string, error) {
	base, commits := p.pubPoly.Info()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(marshaledPubPoly{Threshold: p.threshold, N: p.n, Base: base, Commits: commits}); err != nil {
		return "", fmt.Errorf("encode public key set: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// PublicKeySetFromHex decodes what Hex produced.
func PublicKeySetFromHex(s string) (*PublicKeySet, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key set: %w", err)
	}
	var m marshaledPubPoly
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode public key set: %w", err)
	}
	return &PublicKeySet{
		threshold: m.Threshold,
		n:         m.N,
		pubPoly:   share.NewPubPoly(suite.G2(), m.Base, m.Commits),
	}, nil
}

// Hex encodes this authority's private threshold share, handed to it
// privately by the dealer (THRESHOLD_SHARE_HEX); never broadcast.
func (s *ShareSigner) Hex() (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.priShare); err != nil {
		return "", fmt.Errorf("encode share: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// ShareSignerFromHex decodes what Hex produced.
func ShareSignerFromHex(s string) (*ShareSigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode share: %w", err)
	}
	var priShare share.PriShare
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&priShare); err != nil {
		return nil, fmt.Errorf("decode share: %w", err)
	}
	return &ShareSigner{priShare: &priShare}, nil
}
