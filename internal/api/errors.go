package api

import (
	"PortfolioLedger/internal/ingestion"
	"PortfolioLedger/internal/program"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errInvalidArgument marks request fields that fail to parse.
var errInvalidArgument = errors.New("invalid argument")

// ToStatus maps allocator and ingestion errors onto gRPC status codes.
// Errors that already carry a status pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code returns the gRPC code for err.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, program.ErrAlreadyInitialized),
		errors.Is(err, ingestion.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, program.ErrInsufficientFunds),
		errors.Is(err, program.ErrFaucetDisabled):
		return codes.FailedPrecondition
	case errors.Is(err, program.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, program.ErrNotInitialized),
		errors.Is(err, program.ErrAccountNotFound):
		return codes.NotFound
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, ingestion.ErrMalformed),
		errors.Is(err, program.ErrInvalidAmount),
		errors.Is(err, program.ErrInvalidWallet),
		errors.Is(err, program.ErrFaucetLimit):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		// ErrAddressDerivation lands here too: it means the derivation
		// itself is broken, not the request.
		return codes.Internal
	}
}
