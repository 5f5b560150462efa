package consensus

import (
	"sort"

	"github.com/epochbft/epochbft/pkg/tcrypto"
)

// Authority is one committee member's public identity and voting weight.
type Authority struct {
	ID    AuthorityId
	Stake uint64
	// ShareIndex is this authority's index into the threshold key set's
	// shares, fixed at committee formation time.
	ShareIndex int
}

// Committee is the fixed set of authorities for the lifetime of the module;
// reconfiguration is out of scope.
type Committee struct {
	authorities map[AuthorityId]Authority
	ordered     []AuthorityId // sorted by AuthorityId, for leader round-robin
	totalStake  uint64
	thresholdPK *tcrypto.PublicKeySet
}

// NewCommittee builds a Committee from its authority list and the group
// threshold public key set used to verify combined quorum signatures.
func NewCommittee(authorities []Authority, thresholdPK *tcrypto.PublicKeySet) *Committee {
	c := &Committee{
		authorities: make(map[AuthorityId]Authority, len(authorities)),
		thresholdPK: thresholdPK,
	}
	for _, a := range authorities {
		c.authorities[a.ID] = a
		c.totalStake += a.Stake
		c.ordered = append(c.ordered, a.ID)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].Hex() < c.ordered[j].Hex()
	})
	return c
}

// Authority looks up a committee member; ok is false for unknown authorities.
func (c *Committee) Authority(id AuthorityId) (Authority, bool) {
	a, ok := c.authorities[id]
	return a, ok
}

// Size is the number of authorities (n).
func (c *Committee) Size() int { return len(c.ordered) }

// TotalStake is the sum of all authorities' voting weight.
func (c *Committee) TotalStake() uint64 { return c.totalStake }

// Quorum is the stake threshold for block/echo/finish/commit-vector
// quorums: ceil((2*totalStake + 1) / 3), i.e. 2f+1 for equal-weighted
// committees of n = 3f+1.
func (c *Committee) Quorum() uint64 {
	return (2*c.totalStake + 3) / 3
}

// CoinThreshold is the stake threshold for the common-coin RandomnessShare
// aggregation: ceil((totalStake + 1) / 3), i.e. f+1.
func (c *Committee) CoinThreshold() uint64 {
	return (c.totalStake + 3) / 3
}

// ThresholdPublicKeySet exposes the group key material for combining and
// verifying quorum signature shares.
func (c *Committee) ThresholdPublicKeySet() *tcrypto.PublicKeySet { return c.thresholdPK }

// OrderedAuthorities returns authorities sorted by AuthorityId, the order
// the optimistic round-robin leader and coin-derived leader index use.
func (c *Committee) OrderedAuthorities() []AuthorityId {
	out := make([]AuthorityId, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// OptimisticLeader is the informational round-robin leader for an epoch,
// used for logging and progress tracking only; the binding leader for
// commit purposes is always the coin-elected one (see ElectLeader).
func (c *Committee) OptimisticLeader(epoch EpochNumber) AuthorityId {
	n := len(c.ordered)
	idx := int((uint64(epoch) - 1) % uint64(n))
	return c.ordered[idx]
}

// ElectLeader derives the coin-elected leader from a combined threshold
// signature: its leading 8 bytes, read big-endian, index the sorted
// committee modulo n.
func (c *Committee) ElectLeader(combinedSig []byte) AuthorityId {
	n := len(c.ordered)
	var x uint64
	for i := 0; i < 8 && i < len(combinedSig); i++ {
		x = x<<8 | uint64(combinedSig[i])
	}
	return c.ordered[int(x%uint64(n))]
}
