package tcrypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Signer manages an authority's ordinary signing key pair, used to sign
// Blocks and CommitVectors. It uses secp256k1 (Ethereum-compatible),
// so a verifier can recover the signer's address from signature + hash
// alone; the committee table only needs to carry addresses, not public keys.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return signerFromKey(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signerFromKey(privateKey)
}

func signerFromKey(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the authority identity derived from the public key.
func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex exports the raw signing key, for operators bootstrapping a
// committee member outside of devnet mode; never logged.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest and returns a 65-byte [R || S || V] signature.
func (s *Signer) Sign(hash [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// VerifySignature reports whether signature was produced by address over hash.
func VerifySignature(address common.Address, hash [32]byte, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	publicKeyBytes, err := crypto.Ecrecover(hash[:], signature)
	if err != nil {
		return false
	}
	return AddressFromPubkeyBytes(publicKeyBytes) == address
}

// AddressFromPubkeyBytes derives the 20-byte address from a 65-byte
// uncompressed secp256k1 public key: the last 20 bytes of the Keccak-256
// hash of its X||Y coordinates.
func AddressFromPubkeyBytes(pub []byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	var addr common.Address
	copy(addr[:], h.Sum(nil)[12:])
	return addr
}
