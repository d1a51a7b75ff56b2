package event_test

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"bytes"
	"encoding/json"
	"testing"
)

func TestEventType_StringRoundTrip(t *testing.T) {
	for _, et := range []event.EventType{event.EventTypePortfolioInitialized, event.EventTypeWalletFunded} {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("ParseEventType(%q): got %v, want %v", et.String(), got, et)
		}
	}
	if got := event.ParseEventType("TradeFill"); got != event.EventTypeUnknown {
		t.Errorf("unknown name: got %v", got)
	}
}

func TestInitializePortfolio_SigningMessage(t *testing.T) {
	program := address.PublicKey{0xee}
	instr := &event.InitializePortfolio{
		RequestID:     "req-1",
		Owner:         address.PublicKey{0x01},
		FundingSource: address.PublicKey{0x02},
	}

	msg := instr.SigningMessage(program)

	var want []byte
	want = append(want, "portfolio:initialize:v1:"...)
	want = append(want, program[:]...)
	want = append(want, instr.Owner[:]...)
	want = append(want, instr.FundingSource[:]...)
	want = append(want, "req-1"...)
	if !bytes.Equal(msg, want) {
		t.Errorf("got %x, want %x", msg, want)
	}

	// The program id is part of the message.
	if bytes.Equal(msg, instr.SigningMessage(address.PublicKey{0xef})) {
		t.Error("message must depend on program id")
	}
}

func TestInitializePortfolio_JSONUsesBase58(t *testing.T) {
	instr := event.InitializePortfolio{RequestID: "r", Owner: address.SystemProgramID}

	raw, err := json.Marshal(instr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"owner":"11111111111111111111111111111111"`)) {
		t.Errorf("owner not base58-encoded: %s", raw)
	}
}
