package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/decoder"
	"github.com/MeKo-Tech/leafcheck/internal/store"
)

var (
	// ErrMissingImage is returned when a request carries no image field.
	ErrMissingImage = errors.New("missing image")
	// ErrPayloadTooLarge is returned when the body exceeds the upload limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidRequest covers malformed JSON bodies and form data.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHistoryDisabled is returned by the history routes when no store is configured.
	ErrHistoryDisabled = errors.New("prediction history is disabled")
)

// StatusFor maps an error returned by the prediction core to an HTTP status.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	var rateErr *RateLimitError
	var quotaErr *QuotaExceededError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &tooLarge), errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &rateErr), errors.As(err, &quotaErr):
		return http.StatusTooManyRequests
	// A failed load surfaces as ErrModelNotReady wrapping the cause, so
	// readiness is checked before the load causes themselves.
	case errors.Is(err, classifier.ErrModelNotReady), errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, decoder.ErrUnsupportedFormat),
		errors.Is(err, decoder.ErrDecode),
		errors.Is(err, decoder.ErrInvalidEncoding),
		errors.Is(err, decoder.ErrEmptyInput),
		errors.Is(err, ErrMissingImage),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
