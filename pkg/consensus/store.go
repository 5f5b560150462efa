package consensus

import "context"

// Store persists Block bytes keyed by their content digest. The same digest
// always carries the same bytes, so a repeated Write of a key (the Core
// writes again on a duplicate Val) stores identical bytes.
// The Core encodes/decodes blocks; Store only moves bytes.
type Store interface {
	Read(ctx context.Context, key Digest) ([]byte, error) // (nil, nil) if absent
	Write(ctx context.Context, key Digest, value []byte) error
}
