// Package consensus implements the per-authority core of an asynchronous
// BFT consensus engine: a pipelined SPB (sequential provable broadcast),
// common-coin leader election, a Binary Agreement adapter, and halt-based
// commit.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorityId identifies a committee member by its ordinary signing key's
// derived address.
type AuthorityId = common.Address

// EpochNumber is monotonic from 1; one epoch yields at most one committed
// block.
type EpochNumber uint64

// ViewNumber is monotonic from 1 within an epoch; it only advances when the
// coin must be re-rolled (fallback path).
type ViewNumber uint64

// Digest is a 32-byte content hash.
type Digest [32]byte

func (d Digest) String() string { return fmt.Sprintf("%x", d[:]) }

func (d Digest) Bytes() []byte { return d[:] }

// digest hashes the concatenation of its arguments: sha256 over big-endian
// fixed-width fields.
func digest(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

func epochBytes(e EpochNumber) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(e))
	return b[:]
}

func viewBytes(v ViewNumber) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// PBPhase distinguishes the two chained provable broadcasts of an SPB round.
type PBPhase byte

const (
	Phase1 PBPhase = iota
	Phase2
)

func (p PBPhase) String() string {
	if p == Phase1 {
		return "PBPhase1"
	}
	return "PBPhase2"
}
