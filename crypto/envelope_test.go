package crypto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSealEnvelopeOpensForEveryRecipient(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)
	carol := newTestKeys(t)

	raw, err := SealEnvelope("alice", alice.Signing, []Recipient{
		{Identity: "alice", Key: alice.AgreementPublic()},
		{Identity: "bob", Key: bob.AgreementPublic()},
		{Identity: "carol", Key: carol.AgreementPublic()},
	}, []byte("hello from alice"))
	if err != nil {
		t.Fatalf("SealEnvelope failed: %v", err)
	}

	cases := []struct {
		identity string
		keys     *IdentityKeys
	}{
		{"alice", alice},
		{"bob", bob},
		{"carol", carol},
	}
	for _, tc := range cases {
		plaintext, err := OpenEnvelope(raw, tc.identity, tc.keys.Agreement, alice.SigningPublic())
		if err != nil {
			t.Fatalf("OpenEnvelope as %q failed: %v", tc.identity, err)
		}
		if string(plaintext) != "hello from alice" {
			t.Fatalf("unexpected plaintext for %q: %q", tc.identity, plaintext)
		}
	}
}

func TestOpenEnvelopeRejectsOutsider(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)
	mallory := newTestKeys(t)

	raw, err := SealEnvelope("alice", alice.Signing, []Recipient{
		{Identity: "bob", Key: bob.AgreementPublic()},
	}, []byte("secret"))
	if err != nil {
		t.Fatalf("SealEnvelope failed: %v", err)
	}

	if _, err := OpenEnvelope(raw, "mallory", mallory.Agreement, alice.SigningPublic()); !errors.Is(err, ErrNoWrapForIdentity) {
		t.Fatalf("expected ErrNoWrapForIdentity, got %v", err)
	}

	// A wrap addressed to bob is useless without bob's private key.
	if _, err := OpenEnvelope(raw, "bob", mallory.Agreement, alice.SigningPublic()); err == nil {
		t.Fatalf("expected decryption with the wrong agreement key to fail")
	}
}

func TestOpenEnvelopeDetectsTampering(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)

	raw, err := SealEnvelope("alice", alice.Signing, []Recipient{
		{Identity: "bob", Key: bob.AgreementPublic()},
	}, []byte("untampered"))
	if err != nil {
		t.Fatalf("SealEnvelope failed: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("re-encode envelope: %v", err)
	}

	if _, err := OpenEnvelope(tampered, "bob", bob.Agreement, alice.SigningPublic()); err == nil {
		t.Fatalf("expected tampered envelope to fail verification")
	}

	// Wrong sender key also fails signature verification.
	if _, err := OpenEnvelope(raw, "bob", bob.Agreement, bob.SigningPublic()); err == nil {
		t.Fatalf("expected wrong sender key to fail verification")
	}
}

func TestSealEnvelopeDeduplicatesRecipients(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)

	raw, err := SealEnvelope("alice", alice.Signing, []Recipient{
		{Identity: "bob", Key: bob.AgreementPublic()},
		{Identity: "bob", Key: bob.AgreementPublic()},
	}, []byte("once"))
	if err != nil {
		t.Fatalf("SealEnvelope failed: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(env.Wraps) != 1 {
		t.Fatalf("expected 1 wrap after dedup, got %d", len(env.Wraps))
	}
}

func TestSealEnvelopeValidatesInput(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)
	recipients := []Recipient{{Identity: "bob", Key: bob.AgreementPublic()}}

	if _, err := SealEnvelope("", alice.Signing, recipients, []byte("x")); err == nil {
		t.Fatalf("expected missing sender to fail")
	}
	if _, err := SealEnvelope("alice", alice.Signing, nil, []byte("x")); err == nil {
		t.Fatalf("expected empty recipient list to fail")
	}
	if _, err := SealEnvelope("alice", alice.Signing, recipients, nil); err == nil {
		t.Fatalf("expected empty plaintext to fail")
	}
	if _, err := SealEnvelope("alice", alice.Signing[:10], recipients, []byte("x")); err == nil {
		t.Fatalf("expected truncated signing key to fail")
	}
}
