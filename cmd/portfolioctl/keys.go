package main

import (
	"PortfolioLedger/internal/address"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/ed25519"
)

// Keypair files hold the 64-byte Ed25519 private key (seed || public key) as
// a JSON array of byte values, the layout Solana tooling writes.

// GenerateKeypair writes a fresh keypair to path, refusing to overwrite.
func GenerateKeypair(path string) (address.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return address.PublicKey{}, fmt.Errorf("generate key: %w", err)
	}
	if err := WriteKeypair(path, priv); err != nil {
		return address.PublicKey{}, err
	}
	return address.PublicKeyOf(priv), nil
}

func WriteKeypair(path string, key ed25519.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create keypair %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write keypair %q: %w", path, err)
	}
	return f.Close()
}

// ReadKeypair loads a keypair file and checks that its public half matches
// the seed.
func ReadKeypair(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %q: %w", path, err)
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("decode keypair %q: %w", path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %q: got %d bytes, want %d", path, len(ints), ed25519.PrivateKeySize)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair %q: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if string(key[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair %q: public key does not match seed", path)
	}
	return key, nil
}
