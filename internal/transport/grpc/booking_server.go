package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	bookwisev1 "bookwise/backend/internal/api/bookwise/v1"
	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
	"bookwise/backend/internal/store"
)

type BookingServer struct {
	bookings bookingService
	rules    rulesService
	log      *slog.Logger
}

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

var _ BookingServiceServer = (*BookingServer)(nil)

func NewBookingServer(bookings bookingService, rules rulesService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		bookings: bookings,
		rules:    rules,
		log:      log.With(slog.String("component", "grpc.booking")),
	}
}

func (s *BookingServer) SetAvailability(ctx context.Context, req *bookwisev1.SetAvailabilityRequest) (*bookwisev1.SetAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "SetAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	in, err := bookwisev1.RuleInputs(req.Rules)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("provider_id", req.ProviderID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rules, err := s.rules.SetRules(ctx, req.ProviderID, in)
	if err != nil {
		return nil, toStatus(log, err, slog.String("provider_id", req.ProviderID))
	}

	log.Debug("availability replaced", slog.String("provider_id", req.ProviderID), slog.Int("rules", len(rules)))
	return &bookwisev1.SetAvailabilityResponse{Rules: bookwisev1.FromRules(rules)}, nil
}

func (s *BookingServer) ListAvailabilityRules(ctx context.Context, req *bookwisev1.ListAvailabilityRulesRequest) (*bookwisev1.ListAvailabilityRulesResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAvailabilityRules"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	rules, err := s.rules.ListRules(ctx, req.ProviderID, req.DayOfWeek)
	if err != nil {
		return nil, toStatus(log, err, slog.String("provider_id", req.ProviderID))
	}

	log.Debug("availability rules listed", slog.String("provider_id", req.ProviderID), slog.Int("count", len(rules)))
	return &bookwisev1.ListAvailabilityRulesResponse{Rules: bookwisev1.FromRules(rules)}, nil
}

func (s *BookingServer) QueryAvailability(ctx context.Context, req *bookwisev1.QueryAvailabilityRequest) (*bookwisev1.QueryAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "QueryAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	from, err := bookwisev1.ParseDate("from", req.From)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("provider_id", req.ProviderID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	to, err := bookwisev1.ParseDate("to", req.To)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("provider_id", req.ProviderID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	days, err := s.bookings.Availability(ctx, req.ProviderID, from, to)
	if err != nil {
		return nil, toStatus(log, err, slog.String("provider_id", req.ProviderID))
	}
	return &bookwisev1.QueryAvailabilityResponse{Days: bookwisev1.FromDays(days)}, nil
}

func (s *BookingServer) Reserve(ctx context.Context, req *bookwisev1.ReserveRequest) (*bookwisev1.ReserveResponse, error) {
	log := s.log.With(slog.String("rpc", "Reserve"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	in, err := req.ReserveInput(idempotencyKey(ctx))
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("provider_id", req.ProviderID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	appt, err := s.bookings.Reserve(ctx, in)
	if err != nil {
		return nil, toStatus(log, err,
			slog.String("provider_id", req.ProviderID),
			slog.String("requester_id", req.RequesterID),
		)
	}

	log.Debug(
		"appointment reserved",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("provider_id", appt.ProviderID),
		slog.String("slot", appt.Slot().String()),
	)
	return &bookwisev1.ReserveResponse{Appointment: bookwisev1.FromAppointment(appt)}, nil
}

func (s *BookingServer) Transition(ctx context.Context, req *bookwisev1.TransitionRequest) (*bookwisev1.TransitionResponse, error) {
	log := s.log.With(slog.String("rpc", "Transition"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	in, err := req.TransitionInput()
	if err != nil {
		return nil, toStatus(log, err, slog.String("appointment_id", req.AppointmentID))
	}

	appt, err := s.bookings.Transition(ctx, in)
	if err != nil {
		return nil, toStatus(log, err, slog.String("appointment_id", req.AppointmentID), slog.String("event", req.Event))
	}

	log.Debug("appointment transitioned",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("event", string(in.Event)),
		slog.String("status", string(appt.Status)),
	)
	return &bookwisev1.TransitionResponse{Appointment: bookwisev1.FromAppointment(appt)}, nil
}

func (s *BookingServer) GetAppointment(ctx context.Context, req *bookwisev1.GetAppointmentRequest) (*bookwisev1.GetAppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := bookwisev1.ParseAppointmentID(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "appointment_id must be a UUID")
	}

	appt, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, toStatus(log, err, slog.String("appointment_id", id.String()))
	}
	return &bookwisev1.GetAppointmentResponse{Appointment: bookwisev1.FromAppointment(appt)}, nil
}

func (s *BookingServer) ListAppointments(ctx context.Context, req *bookwisev1.ListAppointmentsRequest) (*bookwisev1.ListAppointmentsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAppointments"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	providerID := strings.TrimSpace(req.ProviderID)
	requesterID := strings.TrimSpace(req.RequesterID)
	if (providerID == "") == (requesterID == "") {
		log.Warn("invalid request", slog.String("reason", "ambiguous_owner"))
		return nil, status.Error(codes.InvalidArgument, "exactly one of provider_id or requester_id is required")
	}

	var (
		appts []domain.Appointment
		err   error
	)
	if providerID != "" {
		var from, to domain.Date
		if from, err = bookwisev1.ParseDate("from", req.From); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if to, err = bookwisev1.ParseDate("to", req.To); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		appts, err = s.bookings.ListForProvider(ctx, providerID, from, to)
	} else {
		var from, to *domain.Date
		if from, err = bookwisev1.ParseOptionalDate("from", req.From); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if to, err = bookwisev1.ParseOptionalDate("to", req.To); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		appts, err = s.bookings.ListForRequester(ctx, requesterID, from, to)
	}
	if err != nil {
		return nil, toStatus(log, err, slog.String("provider_id", providerID), slog.String("requester_id", requesterID))
	}

	log.Debug("appointments listed",
		slog.String("provider_id", providerID),
		slog.String("requester_id", requesterID),
		slog.Int("count", len(appts)),
	)
	return &bookwisev1.ListAppointmentsResponse{Appointments: bookwisev1.FromAppointments(appts)}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// toStatus maps engine errors onto gRPC codes and logs them at the level their class deserves.
// Unknown errors never leak their text to the caller.
func toStatus(log *slog.Logger, err error, attrs ...any) error {
	attrs = append(attrs, slog.Any("err", err))

	var (
		bErr *booking.ValidationError
		aErr *availability.ValidationError
		fErr *bookwisev1.FieldError
	)
	switch {
	case errors.As(err, &bErr), errors.As(err, &aErr), errors.As(err, &fErr):
		log.Warn("invalid request", attrs...)
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInvalidTimeRange), errors.Is(err, domain.ErrCrossesDayBoundary), errors.Is(err, domain.ErrInvalidDayOfWeek):
		log.Warn("invalid request", attrs...)
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, booking.ErrNotAvailable):
		log.Debug("slot outside availability", attrs...)
		return status.Error(codes.FailedPrecondition, "The provider is not available at that time. Pick a different slot.")
	case errors.Is(err, store.ErrSlotTaken):
		log.Debug("slot taken", attrs...)
		return status.Error(codes.FailedPrecondition, "That slot was just booked by someone else. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Debug("idempotency conflict", attrs...)
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Debug("invalid transition", attrs...)
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Debug("appointment not found", attrs...)
		return status.Error(codes.NotFound, "appointment not found")
	case errors.Is(err, store.ErrTransient):
		log.Error("storage unavailable", attrs...)
		return status.Error(codes.Unavailable, "temporarily unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", attrs...)
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	default:
		log.Error("request failed", attrs...)
		return status.Error(codes.Internal, "internal error")
	}
}
