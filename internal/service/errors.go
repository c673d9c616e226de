package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/transcriptformer/tfserve/internal/datasets"
	"github.com/transcriptformer/tfserve/internal/predictor"
)

var (
	ErrQueueFull          = errors.New("request queue is full")
	ErrDispatcherStopped  = errors.New("dispatcher is stopped")
	ErrDatasetsDisabled   = errors.New("dataset provisioning is not configured")
	ErrInvalidRequestBody = errors.New("invalid request payload")
)

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequestBody),
		errors.Is(err, predictor.ErrInvalidInput),
		errors.Is(err, predictor.ErrMissingParameter),
		errors.Is(err, predictor.ErrInvalidParameter),
		errors.Is(err, datasets.ErrInvalidVersion):
		return http.StatusBadRequest
	case errors.Is(err, datasets.ErrUnknownDataset):
		return http.StatusNotFound
	case errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrDispatcherStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrDatasetsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, predictor.ErrInferenceExecution),
		errors.Is(err, datasets.ErrDatasetUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
