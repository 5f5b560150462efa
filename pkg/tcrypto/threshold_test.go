package tcrypto

import (
	"bytes"
	"testing"
)

func dealForTest(t *testing.T, n, threshold int) *ThresholdKeySet {
	t.Helper()
	keySet, err := DealThresholdKeys(n, threshold)
	if err != nil {
		t.Fatalf("deal threshold keys: %v", err)
	}
	return keySet
}

func TestCombineIsSubsetIndependent(t *testing.T) {
	keySet := dealForTest(t, 4, 2)
	pub := keySet.PublicKeySet()
	msg := []byte("epoch 1 view 1 RANDOMNESS_SHARE")

	shares := make([][]byte, 4)
	for i := range shares {
		share, err := keySet.ShareSigner(i).Sign(msg)
		if err != nil {
			t.Fatalf("sign share %d: %v", i, err)
		}
		shares[i] = share
	}

	subsets := [][][]byte{
		{shares[0], shares[1]},
		{shares[2], shares[3]},
		{shares[1], shares[3]},
		{shares[0], shares[1], shares[2], shares[3]},
	}

	var first []byte
	for i, subset := range subsets {
		sig, err := pub.CombineSignatures(msg, subset)
		if err != nil {
			t.Fatalf("combine subset %d: %v", i, err)
		}
		if err := pub.VerifySignature(msg, sig); err != nil {
			t.Fatalf("verify combined signature from subset %d: %v", i, err)
		}
		if first == nil {
			first = sig
		} else if !bytes.Equal(first, sig) {
			t.Fatalf("subset %d combined to a different group signature", i)
		}
	}
}

func TestCombineRejectsTooFewShares(t *testing.T) {
	keySet := dealForTest(t, 4, 2)
	pub := keySet.PublicKeySet()
	msg := []byte("msg")

	share, err := keySet.ShareSigner(0).Sign(msg)
	if err != nil {
		t.Fatalf("sign share: %v", err)
	}
	if _, err := pub.CombineSignatures(msg, [][]byte{share}); err == nil {
		t.Fatal("expected combination with fewer than threshold shares to fail")
	}
}

func TestVerifySignatureShareRejectsWrongMessage(t *testing.T) {
	keySet := dealForTest(t, 4, 2)
	pub := keySet.PublicKeySet()

	share, err := keySet.ShareSigner(0).Sign([]byte("signed message"))
	if err != nil {
		t.Fatalf("sign share: %v", err)
	}
	if err := pub.VerifySignatureShare([]byte("signed message"), share); err != nil {
		t.Fatalf("valid share rejected: %v", err)
	}
	if err := pub.VerifySignatureShare([]byte("other message"), share); err == nil {
		t.Fatal("expected a share over another message to be rejected")
	}
}

func TestPublicKeySetHexRoundTrip(t *testing.T) {
	keySet := dealForTest(t, 4, 2)
	pub := keySet.PublicKeySet()
	msg := []byte("round trip")

	encoded, err := pub.Hex()
	if err != nil {
		t.Fatalf("encode public key set: %v", err)
	}
	decoded, err := PublicKeySetFromHex(encoded)
	if err != nil {
		t.Fatalf("decode public key set: %v", err)
	}
	if decoded.Threshold() != pub.Threshold() {
		t.Fatalf("threshold changed across round trip: %d != %d", decoded.Threshold(), pub.Threshold())
	}

	shares := make([][]byte, 2)
	for i := range shares {
		share, err := keySet.ShareSigner(i).Sign(msg)
		if err != nil {
			t.Fatalf("sign share %d: %v", i, err)
		}
		if err := decoded.VerifySignatureShare(msg, share); err != nil {
			t.Fatalf("decoded set rejects share %d: %v", i, err)
		}
		shares[i] = share
	}
	sig, err := decoded.CombineSignatures(msg, shares)
	if err != nil {
		t.Fatalf("combine with decoded set: %v", err)
	}
	if err := pub.VerifySignature(msg, sig); err != nil {
		t.Fatalf("original set rejects signature combined by decoded set: %v", err)
	}
}

func TestShareSignerHexRoundTrip(t *testing.T) {
	keySet := dealForTest(t, 4, 2)
	pub := keySet.PublicKeySet()
	msg := []byte("share round trip")

	encoded, err := keySet.ShareSigner(1).Hex()
	if err != nil {
		t.Fatalf("encode share: %v", err)
	}
	decoded, err := ShareSignerFromHex(encoded)
	if err != nil {
		t.Fatalf("decode share: %v", err)
	}
	share, err := decoded.Sign(msg)
	if err != nil {
		t.Fatalf("sign with decoded share: %v", err)
	}
	if err := pub.VerifySignatureShare(msg, share); err != nil {
		t.Fatalf("share signed by decoded signer does not verify: %v", err)
	}
}
