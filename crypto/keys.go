package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	signingPrivatePEMType   = "ED25519 PRIVATE KEY"
	agreementPrivatePEMType = "X25519 PRIVATE KEY"
)

var x25519Curve = ecdh.X25519()

// IdentityKeys holds the long-lived key material of one local identity:
// an Ed25519 signing key and an X25519 agreement key.
type IdentityKeys struct {
	Signing   ed25519.PrivateKey
	Agreement *ecdh.PrivateKey
}

// EnsureIdentityKeys loads both identity keys from disk, generating and
// persisting any that are missing. Files are written with 0600 permissions.
func EnsureIdentityKeys(signingPath, agreementPath string) (*IdentityKeys, error) {
	signing, err := ensurePEMKey(signingPath, signingPrivatePEMType, ed25519.PrivateKeySize, func() ([]byte, error) {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	agreementRaw, err := ensurePEMKey(agreementPath, agreementPrivatePEMType, 32, func() ([]byte, error) {
		key, err := x25519Curve.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate X25519 keypair: %w", err)
		}
		return key.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}

	agreement, err := x25519Curve.NewPrivateKey(agreementRaw)
	if err != nil {
		return nil, fmt.Errorf("parse X25519 private key: %w", err)
	}

	return &IdentityKeys{
		Signing:   ed25519.PrivateKey(signing),
		Agreement: agreement,
	}, nil
}

// SigningPublic returns the Ed25519 public key.
func (k *IdentityKeys) SigningPublic() ed25519.PublicKey {
	return k.Signing.Public().(ed25519.PublicKey)
}

// AgreementPublic returns the X25519 public key.
func (k *IdentityKeys) AgreementPublic() *ecdh.PublicKey {
	return k.Agreement.PublicKey()
}

// Fingerprint returns the hex SHA-256 fingerprint of the signing public key.
func (k *IdentityKeys) Fingerprint() string {
	return KeyFingerprint(k.SigningPublic())
}

// KeyFingerprint computes the hex SHA-256 fingerprint of a public key.
func KeyFingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// FormatFingerprint renders a fingerprint as colon-grouped hex pairs.
func FormatFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}

	var groups []string
	for i := 0; i+2 <= len(fingerprint); i += 2 {
		groups = append(groups, strings.ToUpper(fingerprint[i:i+2]))
	}
	return strings.Join(groups, ":")
}

// EncodePublicKey renders raw public key bytes as base64 for storage.
func EncodePublicKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// ParseSigningPublicKey decodes a base64 Ed25519 public key.
func ParseSigningPublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signing public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode signing public key: invalid size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ParseAgreementPublicKey decodes a base64 X25519 public key.
func ParseAgreementPublicKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode agreement public key: %w", err)
	}

	key, err := x25519Curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse agreement public key: %w", err)
	}
	return key, nil
}

func ensurePEMKey(path, pemType string, size int, generate func() ([]byte, error)) ([]byte, error) {
	raw, err := loadPEMKey(path, pemType, size)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	raw, err = generate()
	if err != nil {
		return nil, err
	}
	if err := savePEMKey(path, pemType, raw); err != nil {
		return nil, err
	}

	return raw, nil
}

func loadPEMKey(path, pemType string, size int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode key %q: no PEM block", path)
	}
	if block.Type != pemType {
		return nil, fmt.Errorf("decode key %q: unexpected type %q", path, block.Type)
	}
	if len(block.Bytes) != size {
		return nil, fmt.Errorf("decode key %q: invalid key size %d", path, len(block.Bytes))
	}

	return block.Bytes, nil
}

func savePEMKey(path, pemType string, raw []byte) error {
	block := &pem.Block{
		Type:  pemType,
		Bytes: raw,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write key %q: %w", path, err)
	}

	return nil
}
