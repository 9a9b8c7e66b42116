package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"authsession/backend/internal/account/repository"
	"authsession/backend/internal/identity/service"
)

// Code maps a service error to its gRPC code. Unclassified errors are Internal.
func Code(err error) codes.Code {
	switch service.Kind(err) {
	case service.ErrValidation:
		return codes.InvalidArgument
	case service.ErrConflict:
		return codes.AlreadyExists
	case service.ErrNotFound:
		return codes.NotFound
	case service.ErrInvalidCredentials, service.ErrVerificationFailed:
		return codes.Unauthenticated
	case service.ErrRateLimited:
		return codes.ResourceExhausted
	}
	switch {
	case errors.Is(err, repository.ErrStaleAccount):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

// HTTPStatus maps a service error to an HTTP status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Aborted:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// publicMessage is the error text shown to callers. Internal causes are not exposed.
func publicMessage(err error) string {
	switch Code(err) {
	case codes.Internal:
		return "internal error"
	case codes.Aborted:
		return "account was modified concurrently, retry"
	case codes.DeadlineExceeded:
		return "timed out"
	case codes.Canceled:
		return "canceled"
	}
	return err.Error()
}
