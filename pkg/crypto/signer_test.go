package crypto

import "testing"

func TestSigner_Integrity(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	checksum, err := NewCanonicalHasher().Hash(map[string]any{
		"tenant_id": "user:0xabc:agent:0xdef",
		"count":     3,
	})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	sig, err := signer.Sign([]byte(checksum))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" {
		t.Error("Signature empty")
	}

	valid, err := Verify(signer.PublicKey(), sig, []byte(checksum))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !valid {
		t.Error("Valid signature rejected")
	}

	tampered := checksum + "x"
	valid, _ = Verify(signer.PublicKey(), sig, []byte(tampered))
	if valid {
		t.Error("Tampered payload accepted")
	}
}
