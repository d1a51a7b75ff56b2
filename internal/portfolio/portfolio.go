package portfolio

import (
	"PortfolioLedger/internal/address"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SeedPrefix is the namespace tag mixed into every portfolio address.
	SeedPrefix = "portfolio"

	// DiscriminatorLength is the header reserved ahead of the record fields.
	DiscriminatorLength = 8

	totalValueLength = 8

	// Space is the exact slot size: header + owner + total_value.
	Space = DiscriminatorLength + address.PublicKeyLength + totalValueLength
)

// Discriminator tags a slot as holding a Portfolio: SHA-256("account:Portfolio")[:8].
var Discriminator = accountDiscriminator("Portfolio")

var (
	ErrInvalidLength         = errors.New("portfolio: invalid record length")
	ErrDiscriminatorMismatch = errors.New("portfolio: discriminator mismatch")
)

// Portfolio is the per-owner record. Owner is fixed at creation.
type Portfolio struct {
	Owner      address.PublicKey `json:"owner"`
	TotalValue uint64            `json:"total_value"`
}

// New returns the zero-baseline record for owner.
func New(owner address.PublicKey) *Portfolio {
	return &Portfolio{Owner: owner, TotalValue: 0}
}

// Seeds returns the derivation seeds for owner's record.
func Seeds(owner address.PublicKey) [][]byte {
	return [][]byte{[]byte(SeedPrefix), owner.Bytes()}
}

// DeriveAddress returns the canonical record address and bump for owner under programID.
func DeriveAddress(owner, programID address.PublicKey) (address.PublicKey, uint8, error) {
	return address.FindProgramAddress(Seeds(owner), programID)
}

// MarshalBinary encodes the fixed layout:
//
//	[0:8)   discriminator
//	[8:40)  owner
//	[40:48) total_value, little endian
func (p *Portfolio) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Space)
	copy(buf[:DiscriminatorLength], Discriminator[:])
	copy(buf[DiscriminatorLength:DiscriminatorLength+address.PublicKeyLength], p.Owner[:])
	binary.LittleEndian.PutUint64(buf[DiscriminatorLength+address.PublicKeyLength:], p.TotalValue)
	return buf, nil
}

// UnmarshalBinary decodes a slot produced by MarshalBinary.
func (p *Portfolio) UnmarshalBinary(data []byte) error {
	if len(data) != Space {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(data), Space)
	}
	if !bytes.Equal(data[:DiscriminatorLength], Discriminator[:]) {
		return fmt.Errorf("%w: got %x", ErrDiscriminatorMismatch, data[:DiscriminatorLength])
	}
	copy(p.Owner[:], data[DiscriminatorLength:DiscriminatorLength+address.PublicKeyLength])
	p.TotalValue = binary.LittleEndian.Uint64(data[DiscriminatorLength+address.PublicKeyLength:])
	return nil
}

// Decode is UnmarshalBinary into a fresh value.
func Decode(data []byte) (*Portfolio, error) {
	var p Portfolio
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &p, nil
}

func accountDiscriminator(name string) [DiscriminatorLength]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorLength]byte
	copy(d[:], sum[:DiscriminatorLength])
	return d
}
