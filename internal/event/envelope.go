package event

import (
	"PortfolioLedger/internal/address"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePortfolioInitialized
	EventTypeWalletFunded
)

// EventEnvelope wraps every committed allocator output
type EventEnvelope struct {
	// Monotonic sequence assigned by the allocator
	Sequence int64

	// Request id from the caller (generated when absent)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Record address for PortfolioInitialized, wallet for WalletFunded
	Address address.PublicKey

	// Commit time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 chain value AFTER this output
	StateHash [32]byte

	// Previous output's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is implemented by every inbound instruction
type Event interface {
	// IdempotencyKey returns the stable request id
	IdempotencyKey() string

	// EventType returns the event the instruction produces on success
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypePortfolioInitialized:
		return "PortfolioInitialized"
	case EventTypeWalletFunded:
		return "WalletFunded"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	switch s {
	case "PortfolioInitialized":
		return EventTypePortfolioInitialized
	case "WalletFunded":
		return EventTypeWalletFunded
	default:
		return EventTypeUnknown
	}
}
