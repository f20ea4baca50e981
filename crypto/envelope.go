package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = 1
	sessionKeySize  = 32
	wrapInfoPrefix  = "sealmsg envelope key wrap v1"
)

// ErrNoWrapForIdentity means an envelope carries no key wrap addressed to
// the local identity, so decryption cannot even be attempted.
var ErrNoWrapForIdentity = errors.New("crypto: envelope has no key wrap for identity")

// Recipient pairs an identity with its published X25519 agreement key.
type Recipient struct {
	Identity string
	Key      *ecdh.PublicKey
}

// keyWrap carries the session key sealed to one recipient via ephemeral
// X25519 agreement plus HKDF-SHA256.
type keyWrap struct {
	Identity     string `json:"identity"`
	EphemeralKey []byte `json:"ephemeral_key"`
	Nonce        []byte `json:"nonce"`
	SealedKey    []byte `json:"sealed_key"`
}

type envelope struct {
	Version    int       `json:"version"`
	Sender     string    `json:"sender"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Signature  []byte    `json:"signature"`
	Wraps      []keyWrap `json:"wraps"`
}

// SealEnvelope encrypts plaintext to every listed recipient and signs the
// result with the sender's signing key. Each recipient (deduplicated by
// identity) receives its own key wrap of the same AES-256-GCM session key.
func SealEnvelope(sender string, signingKey ed25519.PrivateKey, recipients []Recipient, plaintext []byte) ([]byte, error) {
	if sender == "" {
		return nil, errors.New("sender is required")
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signing key length: got %d want %d", len(signingKey), ed25519.PrivateKeySize)
	}
	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is required")
	}

	sessionKey := make([]byte, sessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	nonce, ciphertext, err := sealWithKey(sessionKey, plaintext)
	if err != nil {
		return nil, err
	}

	env := envelope{
		Version:    envelopeVersion,
		Sender:     sender,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Signature:  ed25519.Sign(signingKey, signedPayload(nonce, ciphertext)),
	}

	seen := map[string]bool{}
	for _, recipient := range recipients {
		if recipient.Identity == "" || recipient.Key == nil {
			return nil, errors.New("recipient identity and key are required")
		}
		if seen[recipient.Identity] {
			continue
		}
		seen[recipient.Identity] = true

		wrap, err := wrapSessionKey(sessionKey, sender, recipient)
		if err != nil {
			return nil, err
		}
		env.Wraps = append(env.Wraps, wrap)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return raw, nil
}

// OpenEnvelope decrypts an envelope for the given identity. The sender's
// signing key, when provided, is used to verify the ciphertext signature
// before decryption.
func OpenEnvelope(raw []byte, identity string, agreementKey *ecdh.PrivateKey, senderKey ed25519.PublicKey) ([]byte, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}
	if agreementKey == nil {
		return nil, errors.New("agreement key is required")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}

	if senderKey != nil && !ed25519.Verify(senderKey, signedPayload(env.Nonce, env.Ciphertext), env.Signature) {
		return nil, errors.New("envelope signature verification failed")
	}

	var wrap *keyWrap
	for i := range env.Wraps {
		if env.Wraps[i].Identity == identity {
			wrap = &env.Wraps[i]
			break
		}
	}
	if wrap == nil {
		return nil, ErrNoWrapForIdentity
	}

	sessionKey, err := unwrapSessionKey(*wrap, env.Sender, agreementKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := openWithKey(sessionKey, env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open envelope payload: %w", err)
	}

	return plaintext, nil
}

func wrapSessionKey(sessionKey []byte, sender string, recipient Recipient) (keyWrap, error) {
	ephemeral, err := x25519Curve.GenerateKey(rand.Reader)
	if err != nil {
		return keyWrap{}, fmt.Errorf("generate ephemeral key for %q: %w", recipient.Identity, err)
	}

	shared, err := ephemeral.ECDH(recipient.Key)
	if err != nil {
		return keyWrap{}, fmt.Errorf("compute shared secret for %q: %w", recipient.Identity, err)
	}

	wrapKey, err := deriveWrapKey(shared, sender, recipient.Identity)
	if err != nil {
		return keyWrap{}, err
	}

	nonce, sealedKey, err := sealWithKey(wrapKey, sessionKey)
	if err != nil {
		return keyWrap{}, err
	}

	return keyWrap{
		Identity:     recipient.Identity,
		EphemeralKey: ephemeral.PublicKey().Bytes(),
		Nonce:        nonce,
		SealedKey:    sealedKey,
	}, nil
}

func unwrapSessionKey(wrap keyWrap, sender string, agreementKey *ecdh.PrivateKey) ([]byte, error) {
	ephemeral, err := x25519Curve.NewPublicKey(wrap.EphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral key: %w", err)
	}

	shared, err := agreementKey.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	wrapKey, err := deriveWrapKey(shared, sender, wrap.Identity)
	if err != nil {
		return nil, err
	}

	sessionKey, err := openWithKey(wrapKey, wrap.Nonce, wrap.SealedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	if len(sessionKey) != sessionKeySize {
		return nil, fmt.Errorf("unwrapped session key has invalid size %d", len(sessionKey))
	}

	return sessionKey, nil
}

// deriveWrapKey binds the wrap key to the sender/recipient pair so a wrap
// cannot be replayed under different attribution.
func deriveWrapKey(shared []byte, sender, recipient string) ([]byte, error) {
	info := []byte(wrapInfoPrefix + "|" + sender + "|" + recipient)
	key := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	return key, nil
}

func sealWithKey(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

func openWithKey(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: got %d want %d", len(nonce), aead.NonceSize())
	}

	return aead.Open(nil, nonce, ciphertext, nil)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != sessionKeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), sessionKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}

func signedPayload(nonce, ciphertext []byte) []byte {
	payload := make([]byte, 0, len(nonce)+len(ciphertext))
	payload = append(payload, nonce...)
	return append(payload, ciphertext...)
}
