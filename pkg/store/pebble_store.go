// Package store provides the consensus.Store contract and two
// implementations: a pebble-backed one for a running node and an in-memory
// one for tests and single-process demos.
package store

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/epochbft/epochbft/pkg/consensus"
)

// PebbleStore persists Block bytes keyed by content digest (the same digest
// always carries the same bytes), in a single key-prefixed bucket.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func blockKey(digest consensus.Digest) []byte {
	return append([]byte("b:"), digest.Bytes()...)
}

// Read returns (nil, nil) for an absent key, matching consensus.Store's
// contract.
func (s *PebbleStore) Read(_ context.Context, key consensus.Digest) ([]byte, error) {
	val, closer, err := s.db.Get(blockKey(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Write is overwrite-latest-wins: the same digest always carries the same
// bytes, so a re-write of an already-present key is a cheap no-op in
// practice, never a correctness issue.
func (s *PebbleStore) Write(_ context.Context, key consensus.Digest, value []byte) error {
	return s.db.Set(blockKey(key), value, pebble.Sync)
}

var _ consensus.Store = (*PebbleStore)(nil)
