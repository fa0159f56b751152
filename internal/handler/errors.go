// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/classifier-service/internal/predictor"
	"github.com/SyedDaiam9101/classifier-service/internal/preprocess"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
)

// NotLoadedDetail is the fixed message returned while no model is loaded.
const NotLoadedDetail = "Model not loaded. Please try again later."

// requestError is a malformed request (bad JSON, missing field).
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// httpError maps known internal errors to an HTTP status and detail message
func httpError(err error) (int, string) {
	var (
		reqErr  *requestError
		valErr  *preprocess.ValidationError
		predErr *predictor.PredictionError
		tooBig  *http.MaxBytesError
	)

	switch {
	case errors.Is(err, service.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, NotLoadedDetail

	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "request body too large"

	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg

	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, valErr.Error()

	case errors.As(err, &predErr):
		return http.StatusInternalServerError, "Prediction failed: " + predErr.Err.Error()

	default:
		return http.StatusInternalServerError, "Prediction failed: " + err.Error()
	}
}

// grpcError maps known internal errors to appropriate gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	var (
		reqErr *requestError
		valErr *preprocess.ValidationError
	)

	switch {
	case errors.Is(err, service.ErrModelNotLoaded):
		return status.Error(codes.Unavailable, NotLoadedDetail)

	case errors.As(err, &reqErr):
		return status.Error(codes.InvalidArgument, reqErr.msg)

	case errors.As(err, &valErr):
		return status.Error(codes.InvalidArgument, valErr.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Errorf(codes.Internal, "prediction failed: %v", err)
	}
}
