package ingestion

import (
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/program"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Outbound stream and subject prefix.
const (
	LedgerEventStream   = "PORTFOLIO_LEDGER_EVENTS"
	LedgerEventSubjects = "portfolio.ledger.events.>"
	ledgerEventPrefix   = "portfolio.ledger.events."
)

// OutboundPublisher publishes committed outputs for downstream consumers.
// Subjects follow portfolio.ledger.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan program.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the wire form of a committed output.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Address        string          `json:"address"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishableEvent flattens an output envelope.
func NewPublishableEvent(out program.Output) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Address:        env.Address.String(),
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject returns the outbound subject for evt.
func (evt PublishableEvent) Subject() string {
	return ledgerEventPrefix + evt.EventType
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan program.Output, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			evt := NewPublishableEvent(out)
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly.
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The sequence doubles as the JetStream message id so a replay after
	// restart is dropped by the stream's duplicate window.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       LedgerEventStream,
		Subjects:   []string{LedgerEventSubjects},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", LedgerEventStream).Msg("ensured outbound stream")
	return nil
}

// Sink is one consumer of allocator outputs.
type Sink struct {
	Name string
	C    chan<- program.Output
	// Lossy sinks drop on a full channel instead of applying backpressure.
	Lossy bool
}

// Fanout copies every output from in to each sink until in closes or ctx is
// cancelled, then closes every sink channel.
func Fanout(ctx context.Context, in <-chan program.Output, metrics *observability.Metrics, sinks ...Sink) {
	defer func() {
		for _, s := range sinks {
			close(s.C)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			for _, s := range sinks {
				if s.Lossy {
					select {
					case s.C <- out:
					default:
						if metrics != nil {
							metrics.OutputDrops.WithLabelValues(s.Name).Inc()
						}
					}
					continue
				}
				select {
				case s.C <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
