package tcrypto

import "testing"

func TestSignerSignAndRecoverAddress(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var hash [32]byte
	hash[0] = 0x42
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected a 65-byte [R || S || V] signature, got %d bytes", len(sig))
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Fatal("signature does not recover to the signer's address")
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if VerifySignature(other.Address(), hash, sig) {
		t.Fatal("signature must not verify against another authority's address")
	}

	var otherHash [32]byte
	otherHash[0] = 0x43
	if VerifySignature(signer.Address(), otherHash, sig) {
		t.Fatal("signature must not verify against a different digest")
	}
}

func TestSignerPrivateKeyHexRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore from hex: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Fatal("restored signer has a different address")
	}
}
