package main

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/ingestion"
	"PortfolioLedger/internal/program"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/ed25519"
)

// ============================================================================
// Test: Keypair files
// ============================================================================

func TestKeypair_GenerateThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")

	pub, err := GenerateKeypair(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	key, err := ReadKeypair(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := address.PublicKeyOf(key); got != pub {
		t.Errorf("public key: got %s, want %s", got, pub)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode: got %o, want 600", info.Mode().Perm())
	}

	if _, err := GenerateKeypair(path); err == nil {
		t.Error("second generate must not overwrite")
	}
}

func TestKeypair_SolanaLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")
	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	if err := WriteKeypair(path, key); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.HasPrefix(text, "[0,0,0,") || strings.Count(text, ",") != 63 {
		t.Errorf("layout: %s", text)
	}
}

func TestKeypair_RejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))

	tampered := make([]string, 0, 64)
	for i, b := range key {
		if i == 63 {
			b ^= 1
		}
		tampered = append(tampered, strconv.Itoa(int(b)))
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "nope"},
		{"short", "[1,2,3]"},
		{"out of range", "[" + strings.Repeat("300,", 63) + "300]"},
		{"public key mismatch", "[" + strings.Join(tampered, ",") + "]"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
		os.WriteFile(path, []byte(tt.content), 0o600)
		if _, err := ReadKeypair(path); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	if _, err := ReadKeypair(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file: expected error")
	}
}

// ============================================================================
// Test: Signing
// ============================================================================

func TestSignInitialize_VerifiesOnLedger(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 42
	key := ed25519.NewKeyFromSeed(seed)
	owner := address.PublicKeyOf(key)

	req := SignInitialize(key, owner, "req-1", program.DefaultProgramID)
	if req.Owner != owner.String() || req.FundingSource != owner.String() || req.RequestID != "req-1" {
		t.Fatalf("request: %+v", req)
	}

	sig, err := address.ParseSignature(req.Signature)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	ins := &event.InitializePortfolio{RequestID: "req-1", Owner: owner, FundingSource: owner, Signature: sig}
	signers := ingestion.NewVerifier(program.DefaultProgramID).InitializeRequest(ins).Signers
	if len(signers) != 1 || signers[0] != owner {
		t.Errorf("signers: got %v, want [%s]", signers, owner)
	}

	other := ingestion.NewVerifier(address.PublicKey{7}).InitializeRequest(ins).Signers
	if len(other) != 0 {
		t.Error("signature must not verify for another program")
	}
}
