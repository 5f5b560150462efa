package consensus

import (
	"bytes"
	"encoding/gob"
)

// encodeBlock gob-encodes a Block for storage, the same codec the p2p wire
// uses for envelopes.
func encodeBlock(block *Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(block); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeBlock reverses encodeBlock.
func decodeBlock(data []byte) (*Block, error) {
	var block Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&block); err != nil {
		return nil, err
	}
	return &block, nil
}
