package meshcred

import "testing"

func TestHandshake_AcceptsValidProof(t *testing.T) {
	creds, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	proof := ProveHandshake(creds.Secret, "peer-a", nonce)
	if !VerifyHandshake(creds.Secret, "peer-a", nonce, proof) {
		t.Fatal("expected valid proof to verify")
	}
}

func TestHandshake_RejectsWrongSecret(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	proof := ProveHandshake(a.Secret, "peer-a", nonce)
	if VerifyHandshake(b.Secret, "peer-a", nonce, proof) {
		t.Fatal("expected proof under a different secret to fail verification")
	}
}

func TestHandshake_RejectsWrongPeerID(t *testing.T) {
	creds, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	proof := ProveHandshake(creds.Secret, "peer-a", nonce)
	if VerifyHandshake(creds.Secret, "peer-b", nonce, proof) {
		t.Fatal("expected proof bound to a different peer id to fail verification")
	}
}

func TestHandshake_RejectsReplayedNonceMismatch(t *testing.T) {
	creds, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nonce1, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	nonce2, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	proof := ProveHandshake(creds.Secret, "peer-a", nonce1)
	if VerifyHandshake(creds.Secret, "peer-a", nonce2, proof) {
		t.Fatal("expected proof bound to a different nonce to fail verification")
	}
}
