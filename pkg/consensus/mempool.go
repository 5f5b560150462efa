package consensus

// Mempool supplies block payloads and tracks their local availability. A
// proposer pulls digests to propose; a receiver checks whether it already
// holds the referenced payloads before echoing a block, since the digest
// alone doesn't carry the data.
type Mempool interface {
	// Get selects up to maxPayloadSize bytes' worth of pending payload
	// digests for a new block proposal.
	Get(maxPayloadSize int) []Digest

	// Verify reports whether every digest in block.Payload is locally
	// available. If not, the mempool is responsible for fetching the
	// missing payloads and invoking the onAvailable callback registered at
	// construction once block becomes processable again; handle_val-style
	// processing of this exact block is suspended until then.
	Verify(block *Block) (available bool, err error)

	// Cleanup discards payload bookkeeping for a committed block's
	// payload, called once per committed epoch.
	Cleanup(block *Block)
}
