package ingestion

import (
	"PortfolioLedger/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks an instruction that can never succeed as sent.
var ErrMalformed = errors.New("malformed instruction")

// Instruction kinds, taken from the third subject token.
const (
	KindInitialize = "initialize"
	KindAirdrop    = "airdrop"
)

// KindFromSubject maps portfolio.instructions.<kind>.<...> to its kind.
func KindFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != "portfolio" || parts[1] != "instructions" {
		return "", fmt.Errorf("%w: unexpected subject %q", ErrMalformed, subject)
	}
	switch parts[2] {
	case KindInitialize, KindAirdrop:
		return parts[2], nil
	default:
		return "", fmt.Errorf("%w: unknown instruction kind %q", ErrMalformed, parts[2])
	}
}

// ParseRawEvent converts a RawEvent into a typed instruction.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	kind, err := KindFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseInstruction(kind, raw.Data)
}

// ParseInstruction decodes a JSON payload of the given kind. Unknown fields
// are rejected and a request_id is mandatory, since redelivery dedup keys on it.
func ParseInstruction(kind string, data []byte) (event.Event, error) {
	switch kind {
	case KindInitialize:
		var ins event.InitializePortfolio
		if err := decodeStrict(data, &ins); err != nil {
			return nil, fmt.Errorf("%w: parse initialize: %w", ErrMalformed, err)
		}
		if ins.RequestID == "" {
			return nil, fmt.Errorf("%w: initialize: missing request_id", ErrMalformed)
		}
		if ins.Owner.IsZero() {
			return nil, fmt.Errorf("%w: initialize: missing owner", ErrMalformed)
		}
		if ins.FundingSource.IsZero() {
			return nil, fmt.Errorf("%w: initialize: missing funding_source", ErrMalformed)
		}
		return &ins, nil

	case KindAirdrop:
		var ins event.AirdropRequested
		if err := decodeStrict(data, &ins); err != nil {
			return nil, fmt.Errorf("%w: parse airdrop: %w", ErrMalformed, err)
		}
		if ins.RequestID == "" {
			return nil, fmt.Errorf("%w: airdrop: missing request_id", ErrMalformed)
		}
		if ins.Wallet.IsZero() {
			return nil, fmt.Errorf("%w: airdrop: missing wallet", ErrMalformed)
		}
		return &ins, nil

	default:
		return nil, fmt.Errorf("%w: unknown instruction kind %q", ErrMalformed, kind)
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
