package consensus

import (
	"testing"

	"github.com/epochbft/epochbft/pkg/tcrypto"
)

func testCommittee(t *testing.T, n int) *Committee {
	t.Helper()
	keySet, err := tcrypto.DealThresholdKeys(n, (n+3)/3)
	if err != nil {
		t.Fatalf("deal threshold keys: %v", err)
	}
	authorities := make([]Authority, n)
	for i := 0; i < n; i++ {
		authorities[i] = Authority{ID: addr(int64(i + 1)), Stake: 1, ShareIndex: i}
	}
	return NewCommittee(authorities, keySet.PublicKeySet())
}

func TestCommitteeQuorumAndCoinThresholds(t *testing.T) {
	// quorum = ceil((2n+1)/3), coin = ceil((n+1)/3) for unit-stake
	// committees. Sizes divisible by 3 matter: the same expressions under
	// floor division, (2n+1)/3 and (n+1)/3, come out one lower there.
	cases := []struct {
		n      int
		quorum uint64
		coin   uint64
	}{
		{3, 3, 2},
		{4, 3, 2},
		{6, 5, 3},
		{7, 5, 3},
		{9, 7, 4},
	}
	for _, tc := range cases {
		c := testCommittee(t, tc.n)
		if got := c.Quorum(); got != tc.quorum {
			t.Fatalf("n=%d: expected quorum %d, got %d", tc.n, tc.quorum, got)
		}
		if got := c.CoinThreshold(); got != tc.coin {
			t.Fatalf("n=%d: expected coin threshold %d, got %d", tc.n, tc.coin, got)
		}
	}
}

func TestCommitteeOptimisticLeaderRoundRobinsThroughOrderedAuthorities(t *testing.T) {
	c := testCommittee(t, 4)
	ordered := c.OrderedAuthorities()

	for i, want := range ordered {
		epoch := EpochNumber(i + 1)
		if got := c.OptimisticLeader(epoch); got != want {
			t.Fatalf("epoch %d: expected leader %v, got %v", epoch, want, got)
		}
	}
	// Wraps back to the first authority after a full cycle.
	if got := c.OptimisticLeader(EpochNumber(len(ordered) + 1)); got != ordered[0] {
		t.Fatalf("expected round-robin wraparound, got %v", got)
	}
}

func TestCommitteeElectLeaderIsDeterministicAndInCommittee(t *testing.T) {
	c := testCommittee(t, 4)
	sig := []byte{0, 0, 0, 0, 0, 0, 0, 7}

	first := c.ElectLeader(sig)
	second := c.ElectLeader(sig)
	if first != second {
		t.Fatalf("ElectLeader must be deterministic for the same signature, got %v then %v", first, second)
	}
	if _, ok := c.Authority(first); !ok {
		t.Fatalf("elected leader %v is not a committee member", first)
	}
}
