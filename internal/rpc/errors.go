package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/archive"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/kb"
)

// ErrInvalidRequest marks a malformed request message.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps domain errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrSatelliteNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidInstant),
		errors.Is(err, core.ErrInvalidWindow),
		errors.Is(err, archive.ErrEmptyPassword):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrPropagation),
		errors.Is(err, core.ErrInvalidElements),
		errors.Is(err, archive.ErrNoSample):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, feed.ErrFeedUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
