package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds each individual seed.
	MaxSeedLength = 32

	// Domain separator appended after the program id.
	programAddressMarker = "ProgramDerivedAddress"

	// The bump scan starts here and walks down to 0.
	bumpStart = 255
)

var (
	ErrMaxSeedLengthExceeded = errors.New("seed exceeds maximum length")
	ErrTooManySeeds          = errors.New("too many seeds")
	// ErrOnCurve means the candidate is a valid Ed25519 point, so some private
	// key could sign for it and it cannot be used as a program-owned slot.
	ErrOnCurve = errors.New("derived address lies on the ed25519 curve")
	// ErrNoViableBump means every bump in [0, 255] produced an on-curve candidate.
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
)

// IsOnCurve reports whether b decodes as a compressed Ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds || programID || marker and accepts the
// result only if it is off the curve.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return PublicKey{}, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}

	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, fmt.Errorf("%w: seed %d has %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(programAddressMarker))

	var candidate PublicKey
	copy(candidate[:], h.Sum(nil))

	if IsOnCurve(candidate[:]) {
		return PublicKey{}, ErrOnCurve
	}
	return candidate, nil
}

// FindProgramAddress appends a one-byte bump to seeds, scanning from 255 down
// to 0, and returns the first off-curve address with its bump. The result is
// the canonical address for (seeds, programID).
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return PublicKey{}, 0, fmt.Errorf("%w: %d seeds leave no room for the bump", ErrTooManySeeds, len(seeds))
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bumpSeed := []byte{0}
	withBump[len(seeds)] = bumpSeed

	for bump := bumpStart; bump >= 0; bump-- {
		bumpSeed[0] = uint8(bump)
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}

	return PublicKey{}, 0, ErrNoViableBump
}
