package address

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ed25519"
)

// SignatureLength is the width of an Ed25519 signature.
const SignatureLength = ed25519.SignatureSize

// Signature is an Ed25519 signature. Its text form is base58.
type Signature [SignatureLength]byte

var ErrInvalidSignature = errors.New("invalid signature")

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != SignatureLength {
		return sig, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignature, len(raw), SignatureLength)
	}
	copy(sig[:], raw)
	return sig, nil
}

// Sign signs message with a 64-byte Ed25519 private key.
func Sign(key ed25519.PrivateKey, message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(key, message))
	return sig
}

// Verify reports whether sig is signer's signature over message.
func (sig Signature) Verify(signer PublicKey, message []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, sig[:])
}

func (sig Signature) IsZero() bool {
	return sig == Signature{}
}

func (sig Signature) String() string {
	return base58.Encode(sig[:])
}

func (sig Signature) MarshalText() ([]byte, error) {
	return []byte(sig.String()), nil
}

func (sig *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*sig = parsed
	return nil
}

// PublicKeyOf returns the identity of an Ed25519 private key.
func PublicKeyOf(key ed25519.PrivateKey) PublicKey {
	var k PublicKey
	copy(k[:], key.Public().(ed25519.PublicKey))
	return k
}
