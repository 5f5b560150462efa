package mempool

import (
	"testing"

	"github.com/epochbft/epochbft/pkg/consensus"
)

func TestFIFOGetDrainsOnlyWhatFits(t *testing.T) {
	f := New(nil)
	f.Submit(consensus.Digest{1})
	f.Submit(consensus.Digest{2})
	f.Submit(consensus.Digest{3})

	got := f.Get(2 * 32)
	if len(got) != 2 {
		t.Fatalf("expected 2 digests for a 2*32 byte budget, got %d", len(got))
	}
	if len(f.Get(1024)) != 1 {
		t.Fatal("expected the remaining digest to drain on the next Get")
	}
}

func TestFIFOVerifyHoldsBlockUntilEveryPayloadIsAvailable(t *testing.T) {
	var delivered *consensus.Block
	f := New(func(block *consensus.Block) { delivered = block })

	block := &consensus.Block{Payload: []consensus.Digest{{1}, {2}}}
	available, err := f.Verify(block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if available {
		t.Fatal("expected block to be held back: neither payload digest is locally available")
	}

	f.MarkAvailable(consensus.Digest{1})
	if delivered != nil {
		t.Fatal("expected no callback yet: one digest still missing")
	}

	f.MarkAvailable(consensus.Digest{2})
	if delivered != block {
		t.Fatal("expected onAvailable to fire exactly once all payloads resolved")
	}
}

func TestFIFOVerifyReturnsTrueWhenAlreadyAvailable(t *testing.T) {
	f := New(nil)
	f.Submit(consensus.Digest{1})

	block := &consensus.Block{Payload: []consensus.Digest{{1}}}
	available, err := f.Verify(block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !available {
		t.Fatal("expected already-submitted payload to satisfy Verify immediately")
	}
}

func TestFIFOCleanupRetiresPayloadBookkeeping(t *testing.T) {
	f := New(nil)
	f.Submit(consensus.Digest{1})
	block := &consensus.Block{Payload: []consensus.Digest{{1}}}
	f.Cleanup(block)

	available, err := f.Verify(block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if available {
		t.Fatal("expected Cleanup to forget the committed payload's availability")
	}
}
