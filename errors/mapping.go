package errors

import (
	stdErrors "errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the short machine-readable reason sent back to a websocket client.
type Code string

const (
	CodePersistence Code = "persistence"
	CodeProtocol    Code = "protocol"
	CodeInvalid     Code = "invalid"
	CodeRateLimited Code = "rate_limited"
	CodeInternal    Code = "internal"
)

// MapToCode classifies err for the outbound error frame.
func MapToCode(err error) Code {
	switch {
	case stdErrors.Is(err, ErrPersistence):
		return CodePersistence
	case stdErrors.Is(err, ErrAlreadyInRoom),
		stdErrors.Is(err, ErrNotInRoom),
		stdErrors.Is(err, ErrUnknownConnection):
		return CodeProtocol
	case stdErrors.Is(err, ErrInvalidPayload):
		return CodeInvalid
	case stdErrors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

func MapToHTTPStatus(err error) int {
	switch MapToCode(err) {
	case CodePersistence:
		return http.StatusServiceUnavailable
	case CodeProtocol:
		return http.StatusConflict
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// MapToGRPCError converts a domain error into a gRPC status error.
// A nil error stays nil.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch MapToCode(err) {
	case CodePersistence:
		return status.Error(codes.Unavailable, err.Error())
	case CodeProtocol:
		return status.Error(codes.FailedPrecondition, err.Error())
	case CodeInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case CodeRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
