package server

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/bulk-translator/internal/controller"
)

// grpcError maps orchestrator and adapter errors to gRPC status codes.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(err), err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, controller.ErrValidation), errors.Is(err, ErrInvalidArguments):
		return codes.InvalidArgument
	case errors.Is(err, controller.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrUnknownTool):
		return codes.Unimplemented
	case errors.Is(err, controller.ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, controller.ErrShuttingDown):
		return codes.Unavailable
	}
	return codes.Internal
}

// httpStatus maps the same errors to HTTP status codes.
func httpStatus(err error) int {
	switch grpcCode(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound, codes.Unimplemented:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
