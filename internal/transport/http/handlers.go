package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	bookwisev1 "bookwise/backend/internal/api/bookwise/v1"
	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
)

const maxBodyBytes = 1 << 20

type bookingService interface {
	Reserve(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error)
	Transition(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error)
	ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error)
	Availability(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error)
}

type rulesService interface {
	SetRules(ctx context.Context, providerID string, in []availability.RuleInput) ([]domain.AvailabilityRule, error)
	ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error)
}

type Handler struct {
	bookings bookingService
	rules    rulesService
	log      *slog.Logger
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var body bookwisev1.SetAvailabilityRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := bookwisev1.RuleInputs(body.Rules)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rules, err := h.rules.SetRules(r.Context(), providerID, in)
	if err != nil {
		h.writeError(w, r, err, slog.String("provider_id", providerID))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.SetAvailabilityResponse{Rules: bookwisev1.FromRules(rules)})
}

func (h *Handler) ListAvailabilityRules(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var day *int
	if raw := strings.TrimSpace(r.URL.Query().Get("day")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &bookwisev1.FieldError{Field: "day", Err: err})
			return
		}
		day = &d
	}

	rules, err := h.rules.ListRules(r.Context(), providerID, day)
	if err != nil {
		h.writeError(w, r, err, slog.String("provider_id", providerID))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.ListAvailabilityRulesResponse{Rules: bookwisev1.FromRules(rules)})
}

func (h *Handler) QueryAvailability(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	from, to, err := dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	days, err := h.bookings.Availability(r.Context(), providerID, from, to)
	if err != nil {
		h.writeError(w, r, err, slog.String("provider_id", providerID))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.QueryAvailabilityResponse{Days: bookwisev1.FromDays(days)})
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var body bookwisev1.ReserveRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := body.ReserveInput(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	appt, err := h.bookings.Reserve(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err, slog.String("provider_id", in.ProviderID), slog.String("requester_id", in.RequesterID))
		return
	}
	writeJSON(w, http.StatusCreated, bookwisev1.ReserveResponse{Appointment: bookwisev1.FromAppointment(appt)})
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var body bookwisev1.TransitionRequest
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, err)
		return
	}
	body.AppointmentID = chi.URLParam(r, "appointmentID")
	body.Event = chi.URLParam(r, "event")

	in, err := body.TransitionInput()
	if err != nil {
		h.writeError(w, r, err, slog.String("appointment_id", body.AppointmentID))
		return
	}

	appt, err := h.bookings.Transition(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err, slog.String("appointment_id", body.AppointmentID), slog.String("event", body.Event))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.TransitionResponse{Appointment: bookwisev1.FromAppointment(appt)})
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := bookwisev1.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	appt, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, slog.String("appointment_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.GetAppointmentResponse{Appointment: bookwisev1.FromAppointment(appt)})
}

func (h *Handler) ListProviderAppointments(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	from, to, err := dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	appts, err := h.bookings.ListForProvider(r.Context(), providerID, from, to)
	if err != nil {
		h.writeError(w, r, err, slog.String("provider_id", providerID))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.ListAppointmentsResponse{Appointments: bookwisev1.FromAppointments(appts)})
}

func (h *Handler) ListRequesterAppointments(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterID")

	q := r.URL.Query()
	from, err := bookwisev1.ParseOptionalDate("from", q.Get("from"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := bookwisev1.ParseOptionalDate("to", q.Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	appts, err := h.bookings.ListForRequester(r.Context(), requesterID, from, to)
	if err != nil {
		h.writeError(w, r, err, slog.String("requester_id", requesterID))
		return
	}
	writeJSON(w, http.StatusOK, bookwisev1.ListAppointmentsResponse{Appointments: bookwisev1.FromAppointments(appts)})
}

func dateRange(r *http.Request) (domain.Date, domain.Date, error) {
	q := r.URL.Query()
	from, err := bookwisev1.ParseDate("from", q.Get("from"))
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	to, err := bookwisev1.ParseDate("to", q.Get("to"))
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	return from, to, nil
}

// decodeBody returns io.EOF unchanged for an empty body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return &bookwisev1.FieldError{Field: "body", Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
