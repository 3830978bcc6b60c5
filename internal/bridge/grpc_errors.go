package bridge

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/sim"
	"github.com/signalsfoundry/idle-engine/internal/validation"
)

// ToStatusError maps simulation errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, protocol.ErrUnknownKind),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, validation.ErrInvalidBoot),
		errors.Is(err, validation.ErrInvalidStart),
		errors.Is(err, validation.ErrUnknownAbility),
		errors.Is(err, validation.ErrInvalidOffline),
		errors.Is(err, validation.ErrUnknownMessage):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, validation.ErrAbilityCooldown),
		errors.Is(err, validation.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, sim.ErrNotBooted),
		errors.Is(err, sim.ErrNotStarted),
		errors.Is(err, config.ErrInvalidConfig):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, sim.ErrHalted),
		errors.Is(err, validation.ErrBuildMismatch):
		return status.Error(codes.Aborted, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
