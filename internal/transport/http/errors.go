package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	bookwisev1 "bookwise/backend/internal/api/bookwise/v1"
	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
	"bookwise/backend/internal/store"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps engine errors onto HTTP statuses. Unknown errors never leak their text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	status, code, msg := classify(err)

	attrs = append(attrs,
		slog.String("route", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("err", err),
	)
	switch {
	case status >= 500:
		h.log.ErrorContext(r.Context(), "request failed", attrs...)
	case status == http.StatusBadRequest:
		h.log.WarnContext(r.Context(), "invalid request", attrs...)
	default:
		h.log.DebugContext(r.Context(), "request conflicted", attrs...)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func classify(err error) (int, string, string) {
	var (
		bErr *booking.ValidationError
		aErr *availability.ValidationError
		fErr *bookwisev1.FieldError
		mErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return http.StatusBadRequest, "invalid_argument", "request body is required"
	case errors.As(err, &mErr):
		return http.StatusRequestEntityTooLarge, "invalid_argument", "request body too large"
	case errors.As(err, &bErr), errors.As(err, &aErr), errors.As(err, &fErr),
		errors.Is(err, domain.ErrInvalidTimeRange), errors.Is(err, domain.ErrCrossesDayBoundary), errors.Is(err, domain.ErrInvalidDayOfWeek):
		return http.StatusBadRequest, "invalid_argument", err.Error()
	case errors.Is(err, booking.ErrNotAvailable):
		return http.StatusConflict, "not_available", "The provider is not available at that time. Pick a different slot."
	case errors.Is(err, store.ErrSlotTaken):
		return http.StatusConflict, "slot_taken", "That slot was just booked by someone else. Pick a different slot."
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "This request key was already used for a different booking. Try again."
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "appointment not found"
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
