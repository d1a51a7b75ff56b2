// Package api defines portfolio.v1.PortfolioService: plain Go request and
// response types carried over gRPC by a JSON codec, the service descriptor,
// its server implementation and a typed client.
package api

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/portfolio"
	"PortfolioLedger/internal/query"
	"PortfolioLedger/internal/store"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "portfolio.v1.PortfolioService"

const (
	MethodInitializePortfolio = "/" + ServiceName + "/InitializePortfolio"
	MethodGetPortfolio        = "/" + ServiceName + "/GetPortfolio"
	MethodDeriveAddress       = "/" + ServiceName + "/DeriveAddress"
	MethodFundWallet          = "/" + ServiceName + "/FundWallet"
	MethodGetAccount          = "/" + ServiceName + "/GetAccount"
	MethodListJournals        = "/" + ServiceName + "/ListJournals"
	MethodVerifyIntegrity     = "/" + ServiceName + "/VerifyIntegrity"
)

// PortfolioServiceServer is the server API for portfolio.v1.PortfolioService.
type PortfolioServiceServer interface {
	InitializePortfolio(context.Context, *InitializePortfolioRequest) (*PortfolioResponse, error)
	GetPortfolio(context.Context, *GetPortfolioRequest) (*PortfolioResponse, error)
	DeriveAddress(context.Context, *DeriveAddressRequest) (*DeriveAddressResponse, error)
	FundWallet(context.Context, *FundWalletRequest) (*FundWalletResponse, error)
	GetAccount(context.Context, *GetAccountRequest) (*AccountResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*VerifyIntegrityResponse, error)
}

func unaryHandler[Req, Resp any](method string, call func(PortfolioServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PortfolioServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PortfolioServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PortfolioServiceDesc is the grpc.ServiceDesc for portfolio.v1.PortfolioService.
var PortfolioServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PortfolioServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitializePortfolio", Handler: unaryHandler(MethodInitializePortfolio, PortfolioServiceServer.InitializePortfolio)},
		{MethodName: "GetPortfolio", Handler: unaryHandler(MethodGetPortfolio, PortfolioServiceServer.GetPortfolio)},
		{MethodName: "DeriveAddress", Handler: unaryHandler(MethodDeriveAddress, PortfolioServiceServer.DeriveAddress)},
		{MethodName: "FundWallet", Handler: unaryHandler(MethodFundWallet, PortfolioServiceServer.FundWallet)},
		{MethodName: "GetAccount", Handler: unaryHandler(MethodGetAccount, PortfolioServiceServer.GetAccount)},
		{MethodName: "ListJournals", Handler: unaryHandler(MethodListJournals, PortfolioServiceServer.ListJournals)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler(MethodVerifyIntegrity, PortfolioServiceServer.VerifyIntegrity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "portfolio/v1/portfolio.proto",
}

func RegisterPortfolioServiceServer(s grpc.ServiceRegistrar, srv PortfolioServiceServer) {
	s.RegisterService(&PortfolioServiceDesc, srv)
}

// ============================================================================
// Server implementation
// ============================================================================

// Ledger is the read side of the allocator.
type Ledger interface {
	ProgramID() address.PublicKey
	AllocationCost() uint64
	DeriveAddress(owner address.PublicKey) (address.PublicKey, uint8, error)
	FetchRecord(ctx context.Context, owner address.PublicKey) (*portfolio.Portfolio, address.PublicKey, error)
	Account(ctx context.Context, addr address.PublicKey) (*store.Account, error)
}

// Writer is the verified write path (ingestion.Dispatcher).
type Writer interface {
	Initialize(ctx context.Context, ins *event.InitializePortfolio) (*portfolio.Portfolio, error)
	Ensure(ctx context.Context, ins *event.InitializePortfolio) (*portfolio.Portfolio, bool, error)
	Airdrop(ctx context.Context, ins *event.AirdropRequested) (uint64, error)
}

// Auditor reads the event log. Absent without Postgres.
type Auditor interface {
	GetJournalHistory(ctx context.Context, addr address.PublicKey, limit int, beforeSequence int64) ([]query.JournalEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 500
)

// Service implements PortfolioServiceServer.
type Service struct {
	ledger  Ledger
	writer  Writer
	auditor Auditor
	logger  zerolog.Logger
}

// NewService wires the service. auditor may be nil.
func NewService(ledger Ledger, writer Writer, auditor Auditor, logger zerolog.Logger) *Service {
	return &Service{ledger: ledger, writer: writer, auditor: auditor, logger: logger}
}

func (s *Service) InitializePortfolio(ctx context.Context, req *InitializePortfolioRequest) (*PortfolioResponse, error) {
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	funding, err := parseKey("funding_source", req.FundingSource)
	if err != nil {
		return nil, ToStatus(err)
	}
	var sig address.Signature
	if req.Signature != "" {
		if sig, err = address.ParseSignature(req.Signature); err != nil {
			return nil, ToStatus(fmt.Errorf("%w: signature: %w", errInvalidArgument, err))
		}
	}

	ins := &event.InitializePortfolio{
		RequestID:     req.RequestID,
		Owner:         owner,
		FundingSource: funding,
		Signature:     sig,
	}
	if ins.RequestID == "" {
		ins.RequestID = uuid.NewString()
	}

	var (
		record  *portfolio.Portfolio
		created = true
	)
	if req.IfAbsent {
		record, created, err = s.writer.Ensure(ctx, ins)
	} else {
		record, err = s.writer.Initialize(ctx, ins)
	}
	if err != nil {
		return nil, ToStatus(err)
	}

	addr, _, err := s.ledger.DeriveAddress(owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &PortfolioResponse{
		Address:    addr.String(),
		Owner:      record.Owner.String(),
		TotalValue: record.TotalValue,
		Lamports:   s.ledger.AllocationCost(),
		Created:    created,
	}, nil
}

func (s *Service) GetPortfolio(ctx context.Context, req *GetPortfolioRequest) (*PortfolioResponse, error) {
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	record, addr, err := s.ledger.FetchRecord(ctx, owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	acct, err := s.ledger.Account(ctx, addr)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &PortfolioResponse{
		Address:    addr.String(),
		Owner:      record.Owner.String(),
		TotalValue: record.TotalValue,
		Lamports:   acct.Lamports,
	}, nil
}

func (s *Service) DeriveAddress(ctx context.Context, req *DeriveAddressRequest) (*DeriveAddressResponse, error) {
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	addr, bump, err := s.ledger.DeriveAddress(owner)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &DeriveAddressResponse{
		Address:   addr.String(),
		Bump:      bump,
		ProgramID: s.ledger.ProgramID().String(),
	}, nil
}

func (s *Service) FundWallet(ctx context.Context, req *FundWalletRequest) (*FundWalletResponse, error) {
	wallet, err := parseKey("wallet", req.Wallet)
	if err != nil {
		return nil, ToStatus(err)
	}
	ins := &event.AirdropRequested{
		RequestID: req.RequestID,
		Wallet:    wallet,
		Lamports:  req.Lamports,
	}
	if ins.RequestID == "" {
		ins.RequestID = uuid.NewString()
	}

	balance, err := s.writer.Airdrop(ctx, ins)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &FundWalletResponse{Wallet: wallet.String(), Balance: balance}, nil
}

func (s *Service) GetAccount(ctx context.Context, req *GetAccountRequest) (*AccountResponse, error) {
	addr, err := parseKey("address", req.Address)
	if err != nil {
		return nil, ToStatus(err)
	}
	acct, err := s.ledger.Account(ctx, addr)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &AccountResponse{
		Address:  acct.Address.String(),
		Lamports: acct.Lamports,
		Owner:    acct.Owner.String(),
		Space:    len(acct.Data),
		Data:     acct.Data,
	}, nil
}

func (s *Service) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	if s.auditor == nil {
		return nil, status.Error(codes.Unimplemented, "journal history requires the postgres event log")
	}
	addr, err := parseKey("address", req.Address)
	if err != nil {
		return nil, ToStatus(err)
	}

	limit := int(req.Limit)
	if limit <= 0 || limit > maxJournalLimit {
		limit = defaultJournalLimit
	}

	entries, err := s.auditor.GetJournalHistory(ctx, addr, limit, req.BeforeSequence)
	if err != nil {
		s.logger.Error().Err(err).Str("address", addr.String()).Msg("journal history failed")
		return nil, ToStatus(err)
	}
	if entries == nil {
		entries = []query.JournalEntry{}
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*VerifyIntegrityResponse, error) {
	if s.auditor == nil {
		return nil, status.Error(codes.Unimplemented, "integrity checks require the postgres event log")
	}
	report, err := s.auditor.VerifyIntegrity(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("integrity check failed")
		return nil, ToStatus(err)
	}
	if !report.IsHealthy {
		s.logger.Warn().
			Int("chain_breaks", len(report.HashChainBreaks)).
			Int("gaps", len(report.SequenceGaps)).
			Int("orphans", len(report.OrphanRecords)).
			Msg("integrity check found problems")
	}
	return &VerifyIntegrityResponse{IntegrityReport: *report}, nil
}

func parseKey(field, s string) (address.PublicKey, error) {
	if s == "" {
		return address.PublicKey{}, fmt.Errorf("%w: %s is required", errInvalidArgument, field)
	}
	k, err := address.ParsePublicKey(s)
	if err != nil {
		return address.PublicKey{}, fmt.Errorf("%w: %s: %w", errInvalidArgument, field, err)
	}
	return k, nil
}

var _ PortfolioServiceServer = (*Service)(nil)
