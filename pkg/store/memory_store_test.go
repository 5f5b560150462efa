package store

import (
	"context"
	"testing"

	"github.com/epochbft/epochbft/pkg/consensus"
)

func TestMemoryStoreReadOfAbsentKeyReturnsNilNil(t *testing.T) {
	s := NewMemoryStore()
	val, err := s.Read(context.Background(), consensus.Digest{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != nil {
		t.Fatalf("expected nil for an absent key, got %v", val)
	}
}

func TestMemoryStoreWriteThenRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := consensus.Digest{1}
	want := []byte("block bytes")

	if err := s.Write(ctx, key, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMemoryStoreReadReturnsACopyNotTheStoredSlice(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := consensus.Digest{1}
	original := []byte("abc")
	if err := s.Write(ctx, key, original); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.Read(ctx, key)
	got[0] = 'z'

	again, _ := s.Read(ctx, key)
	if string(again) != "abc" {
		t.Fatalf("expected stored value to be unaffected by mutating a prior read, got %q", again)
	}
}
