package ingestion

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/portfolio"
	"PortfolioLedger/internal/program"
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// ErrDuplicateRequest means the request id was already committed.
var ErrDuplicateRequest = errors.New("duplicate request")

// Core is the part of the allocator the dispatcher drives.
type Core interface {
	InitializeRecord(ctx context.Context, req program.InitializeRequest) (*portfolio.Portfolio, error)
	EnsureRecord(ctx context.Context, req program.InitializeRequest) (*portfolio.Portfolio, bool, error)
	Fund(ctx context.Context, wallet address.PublicKey, lamports uint64, requestID string) (uint64, error)
}

// Deduplicator reports whether a request already produced an event.
// persistence.RequestLog satisfies it against the event log.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

// MemoryDedup remembers recent request keys in an LRU. Used when there is no
// event log to ask.
type MemoryDedup struct {
	seen *lru.Cache[string, struct{}]
}

func NewMemoryDedup(size int) (*MemoryDedup, error) {
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &MemoryDedup{seen: c}, nil
}

func (d *MemoryDedup) IsDuplicate(_ context.Context, eventType string, idempotencyKey string) (bool, error) {
	return d.seen.Contains(eventType + ":" + idempotencyKey), nil
}

// Remember records a committed request.
func (d *MemoryDedup) Remember(eventType string, idempotencyKey string) {
	d.seen.Add(eventType+":"+idempotencyKey, struct{}{})
}

type rememberer interface {
	Remember(eventType string, idempotencyKey string)
}

// LayeredDedup asks each layer in order and reports a duplicate on the first
// hit. The event log lags commits by a flush interval, so a MemoryDedup in
// front of a RequestLog closes that window.
type LayeredDedup []Deduplicator

func (l LayeredDedup) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error) {
	for _, d := range l {
		dup, err := d.IsDuplicate(ctx, eventType, idempotencyKey)
		if err != nil || dup {
			return dup, err
		}
	}
	return false, nil
}

// Remember forwards to every layer that keeps its own memory.
func (l LayeredDedup) Remember(eventType string, idempotencyKey string) {
	for _, d := range l {
		if r, ok := d.(rememberer); ok {
			r.Remember(eventType, idempotencyKey)
		}
	}
}

// Dispatcher is the single write path into the allocator for both the API
// and NATS. It verifies signatures and drops replayed airdrops; initialize
// needs no dedup because the record address is allocate-once.
type Dispatcher struct {
	core     Core
	verifier *Verifier
	dedup    Deduplicator
	metrics  *observability.Metrics
	logger   zerolog.Logger

	// inflight holds one channel per airdrop request id being handled,
	// closed when that attempt finishes.
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewDispatcher wires a dispatcher. dedup and metrics may be nil.
func NewDispatcher(core Core, verifier *Verifier, dedup Deduplicator, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		core:     core,
		verifier: verifier,
		dedup:    dedup,
		metrics:  metrics,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

// Initialize verifies ins and initializes the owner's record.
func (d *Dispatcher) Initialize(ctx context.Context, ins *event.InitializePortfolio) (*portfolio.Portfolio, error) {
	return d.core.InitializeRecord(ctx, d.verifier.InitializeRequest(ins))
}

// Ensure verifies ins and returns the owner's record, initializing it only
// if absent. created reports whether this call allocated it.
func (d *Dispatcher) Ensure(ctx context.Context, ins *event.InitializePortfolio) (record *portfolio.Portfolio, created bool, err error) {
	return d.core.EnsureRecord(ctx, d.verifier.InitializeRequest(ins))
}

// Airdrop credits the wallet unless this request id was already committed.
// Attempts with the same request id run one at a time, so a concurrent
// replay sees the first attempt's outcome instead of racing it.
func (d *Dispatcher) Airdrop(ctx context.Context, ins *event.AirdropRequested) (uint64, error) {
	eventType := ins.EventType().String()
	if d.dedup != nil && ins.RequestID != "" {
		release, err := d.claim(ctx, eventType+":"+ins.RequestID)
		if err != nil {
			return 0, err
		}
		defer release()

		dup, err := d.dedup.IsDuplicate(ctx, eventType, ins.RequestID)
		if err != nil {
			// Fail closed: a lost credit is retried by the sender, a double credit is not undone.
			return 0, fmt.Errorf("dedup lookup %s: %w", ins.RequestID, err)
		}
		if dup {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateRequest, ins.RequestID)
		}
	}

	balance, err := d.core.Fund(ctx, ins.Wallet, ins.Lamports, ins.RequestID)
	if err != nil {
		return 0, err
	}
	if r, ok := d.dedup.(rememberer); ok && ins.RequestID != "" {
		r.Remember(eventType, ins.RequestID)
	}
	return balance, nil
}

// claim waits until no other attempt holds key, then holds it until release.
func (d *Dispatcher) claim(ctx context.Context, key string) (release func(), err error) {
	for {
		d.mu.Lock()
		busy, ok := d.inflight[key]
		if !ok {
			done := make(chan struct{})
			d.inflight[key] = done
			d.mu.Unlock()
			return func() {
				d.mu.Lock()
				delete(d.inflight, key)
				d.mu.Unlock()
				close(done)
			}, nil
		}
		d.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dispatch routes a parsed instruction.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) error {
	switch ins := ev.(type) {
	case *event.InitializePortfolio:
		_, err := d.Initialize(ctx, ins)
		return err
	case *event.AirdropRequested:
		_, err := d.Airdrop(ctx, ins)
		return err
	default:
		return fmt.Errorf("%w: unsupported instruction %T", ErrMalformed, ev)
	}
}

// Run consumes raw NATS messages until ctx is cancelled or rawChan closes.
// Each message is acked once handled. Only a retryable failure (funding
// shortfall) or a cancelled context is nak'd for redelivery; everything
// else is terminal and acking stops the redelivery loop.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawEvent) {
	kind, _ := KindFromSubject(raw.Subject)

	ev, err := ParseRawEvent(raw)
	if err == nil {
		err = d.Dispatch(ctx, ev)
	}

	result := outcome(err)
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(kindLabel(kind), result).Inc()
		if result == "rejected" {
			d.metrics.IngestRejected.WithLabelValues(rejectReason(err)).Inc()
		}
	}

	switch result {
	case "retry":
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("instruction deferred")
		raw.nak()
	case "rejected":
		d.logger.Info().Err(err).Str("subject", raw.Subject).Msg("instruction rejected")
		raw.ack()
	default:
		raw.ack()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case program.Retryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "retry"
	default:
		return "rejected"
	}
}

func rejectReason(err error) string {
	if errors.Is(err, ErrMalformed) {
		return "malformed"
	}
	return program.ResultLabel(err)
}

func kindLabel(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}
