package consensus

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(n int64) AuthorityId {
	return common.BigToAddress(big.NewInt(n))
}

func TestAggregatorReleasesAtThreshold(t *testing.T) {
	agg := NewAggregator[string](3)

	if bundle, err := agg.Append(addr(1), 1, "a"); err != nil || bundle != nil {
		t.Fatalf("expected no release yet, got bundle=%v err=%v", bundle, err)
	}
	if bundle, err := agg.Append(addr(2), 1, "b"); err != nil || bundle != nil {
		t.Fatalf("expected no release yet, got bundle=%v err=%v", bundle, err)
	}
	bundle, err := agg.Append(addr(3), 1, "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle) != 3 {
		t.Fatalf("expected bundle of 3 on crossing threshold, got %v", bundle)
	}
}

func TestAggregatorIsAtIsAPurePredicate(t *testing.T) {
	agg := NewAggregator[string](3)
	if agg.IsAt(1) {
		t.Fatal("empty aggregator must not be at any positive threshold")
	}
	if _, err := agg.Append(addr(1), 2, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !agg.IsAt(2) || agg.IsAt(3) {
		t.Fatalf("expected weight 2 to satisfy threshold 2 and not 3")
	}
}

func TestAggregatorRejectsDuplicateAuthor(t *testing.T) {
	agg := NewAggregator[string](10)
	if _, err := agg.Append(addr(1), 1, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.Append(addr(1), 1, "a-again"); err == nil {
		t.Fatal("expected authority reuse error")
	}
}

func TestAggregatorFiresAtMostOnce(t *testing.T) {
	agg := NewAggregator[string](2)

	if _, err := agg.Append(addr(1), 1, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bundle, err := agg.Append(addr(2), 1, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle) != 2 {
		t.Fatalf("expected release at threshold, got %v", bundle)
	}
	if !agg.Released() {
		t.Fatal("expected Released() to be true after first release")
	}

	// Further distinct authors must never trigger a second release, the
	// gap the explicit released flag closes relative to weight-zeroing alone.
	bundle, err = agg.Append(addr(3), 5, "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle != nil {
		t.Fatalf("expected no second release, got %v", bundle)
	}
}
