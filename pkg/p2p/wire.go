package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/epochbft/epochbft/pkg/consensus"
)

func init() {
	gob.Register(consensus.Envelope{})
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
