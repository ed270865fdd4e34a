package grpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	bookwisev1 "bookwise/backend/internal/api/bookwise/v1"
	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/service/availability"
	"bookwise/backend/internal/service/booking"
	"bookwise/backend/internal/store"
	"bookwise/backend/internal/store/memory"
)

type fakeBookingService struct {
	reserveFn          func(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error)
	transitionFn       func(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error)
	getFn              func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	listForProviderFn  func(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error)
	listForRequesterFn func(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error)
	availabilityFn     func(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error)
}

func (f *fakeBookingService) Reserve(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error) {
	if f.reserveFn == nil {
		panic("Reserve not configured")
	}
	return f.reserveFn(ctx, in)
}

func (f *fakeBookingService) Transition(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error) {
	if f.transitionFn == nil {
		panic("Transition not configured")
	}
	return f.transitionFn(ctx, in)
}

func (f *fakeBookingService) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if f.getFn == nil {
		panic("Get not configured")
	}
	return f.getFn(ctx, id)
}

func (f *fakeBookingService) ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error) {
	if f.listForProviderFn == nil {
		panic("ListForProvider not configured")
	}
	return f.listForProviderFn(ctx, providerID, from, to)
}

func (f *fakeBookingService) ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error) {
	if f.listForRequesterFn == nil {
		panic("ListForRequester not configured")
	}
	return f.listForRequesterFn(ctx, requesterID, from, to)
}

func (f *fakeBookingService) Availability(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error) {
	if f.availabilityFn == nil {
		panic("Availability not configured")
	}
	return f.availabilityFn(ctx, providerID, from, to)
}

type fakeRulesService struct {
	setRulesFn  func(ctx context.Context, providerID string, in []availability.RuleInput) ([]domain.AvailabilityRule, error)
	listRulesFn func(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error)
}

func (f *fakeRulesService) SetRules(ctx context.Context, providerID string, in []availability.RuleInput) ([]domain.AvailabilityRule, error) {
	if f.setRulesFn == nil {
		panic("SetRules not configured")
	}
	return f.setRulesFn(ctx, providerID, in)
}

func (f *fakeRulesService) ListRules(ctx context.Context, providerID string, dayOfWeek *int) ([]domain.AvailabilityRule, error) {
	if f.listRulesFn == nil {
		panic("ListRules not configured")
	}
	return f.listRulesFn(ctx, providerID, dayOfWeek)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validReserve() *bookwisev1.ReserveRequest {
	return &bookwisev1.ReserveRequest{
		ProviderID:  "p1",
		RequesterID: "r1",
		Date:        "2026-01-05",
		StartTime:   "10:00",
		EndTime:     "11:00",
	}
}

func TestIdempotencyKey_ReadsHeadersAndTrims(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "  abc  "))
	if got := idempotencyKey(ctx); got != "abc" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "abc")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-idempotency-key", "xyz"))
	if got := idempotencyKey(ctx); got != "xyz" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "xyz")
	}
}

func TestReserve_RejectsUnparseableSlot(t *testing.T) {
	srv := NewBookingServer(&fakeBookingService{}, &fakeRulesService{}, quietLogger())

	tests := []struct {
		name string
		req  *bookwisev1.ReserveRequest
	}{
		{name: "nil request", req: nil},
		{name: "bad date", req: &bookwisev1.ReserveRequest{ProviderID: "p1", RequesterID: "r1", Date: "05/01/2026", StartTime: "10:00", EndTime: "11:00"}},
		{name: "bad start", req: &bookwisev1.ReserveRequest{ProviderID: "p1", RequesterID: "r1", Date: "2026-01-05", StartTime: "25:00", EndTime: "11:00"}},
		{name: "half instant pair", req: &bookwisev1.ReserveRequest{ProviderID: "p1", RequesterID: "r1", StartsAt: &time.Time{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Reserve(context.Background(), tt.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
			}
		})
	}
}

func TestReserve_PassesIdempotencyKeyToService(t *testing.T) {
	var got booking.ReserveInput

	srv := NewBookingServer(&fakeBookingService{
		reserveFn: func(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error) {
			got = in
			return domain.Appointment{ID: uuid.MustParse("00000000-0000-0000-0000-000000000010"), Status: domain.StatusPending}, nil
		},
	}, &fakeRulesService{}, quietLogger())

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "k1"))
	resp, err := srv.Reserve(ctx, validReserve())
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if got.IdempotencyKey != "k1" {
		t.Fatalf("idempotency_key = %q, want %q", got.IdempotencyKey, "k1")
	}
	if got.Date != domain.NewDate(2026, 1, 5) || got.Start != domain.NewTimeOfDay(10, 0) || got.End != domain.NewTimeOfDay(11, 0) {
		t.Fatalf("slot = %s %s-%s", got.Date, got.Start, got.End)
	}
	if resp.Appointment.Status != "pending" {
		t.Fatalf("status = %q, want pending", resp.Appointment.Status)
	}
}

func TestReserve_MapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "not available", err: booking.ErrNotAvailable, want: codes.FailedPrecondition},
		{name: "slot taken", err: store.ErrSlotTaken, want: codes.FailedPrecondition},
		{name: "idempotency conflict", err: store.ErrIdempotencyConflict, want: codes.FailedPrecondition},
		{name: "validation", err: &booking.ValidationError{}, want: codes.InvalidArgument},
		{name: "crosses day boundary", err: domain.ErrCrossesDayBoundary, want: codes.InvalidArgument},
		{name: "transient", err: store.ErrTransient, want: codes.Unavailable},
		{name: "unknown", err: errors.New("pq: relation does not exist"), want: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewBookingServer(&fakeBookingService{
				reserveFn: func(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error) {
					return domain.Appointment{}, tt.err
				},
			}, &fakeRulesService{}, quietLogger())

			_, err := srv.Reserve(context.Background(), validReserve())
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
			if tt.want == codes.Internal && status.Convert(err).Message() != "internal error" {
				t.Fatalf("internal error leaked detail: %q", status.Convert(err).Message())
			}
		})
	}
}

func TestTransition_MapsStateErrors(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name string
		req  *bookwisev1.TransitionRequest
		err  error
		want codes.Code
	}{
		{name: "invalid uuid", req: &bookwisev1.TransitionRequest{AppointmentID: "nope", Event: "confirm"}, want: codes.InvalidArgument},
		{name: "unknown event", req: &bookwisev1.TransitionRequest{AppointmentID: id.String(), Event: "teleport"}, want: codes.FailedPrecondition},
		{name: "unknown actor", req: &bookwisev1.TransitionRequest{AppointmentID: id.String(), Event: "cancel", Actor: "robot"}, want: codes.InvalidArgument},
		{name: "illegal transition", req: &bookwisev1.TransitionRequest{AppointmentID: id.String(), Event: "finish"}, err: domain.ErrInvalidTransition, want: codes.FailedPrecondition},
		{name: "missing appointment", req: &bookwisev1.TransitionRequest{AppointmentID: id.String(), Event: "confirm"}, err: store.ErrNotFound, want: codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewBookingServer(&fakeBookingService{
				transitionFn: func(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error) {
					if in.AppointmentID != id {
						t.Fatalf("appointment id = %s, want %s", in.AppointmentID, id)
					}
					return domain.Appointment{}, tt.err
				},
			}, &fakeRulesService{}, quietLogger())

			_, err := srv.Transition(context.Background(), tt.req)
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
		})
	}
}

func TestListAppointments_RequiresExactlyOneOwner(t *testing.T) {
	srv := NewBookingServer(&fakeBookingService{}, &fakeRulesService{}, quietLogger())

	for _, req := range []*bookwisev1.ListAppointmentsRequest{
		{},
		{ProviderID: "p1", RequesterID: "r1"},
	} {
		_, err := srv.ListAppointments(context.Background(), req)
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
		}
	}
}

func TestListAppointments_RequesterRangeIsOptional(t *testing.T) {
	var gotFrom, gotTo *domain.Date
	srv := NewBookingServer(&fakeBookingService{
		listForRequesterFn: func(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error) {
			gotFrom, gotTo = from, to
			return []domain.Appointment{{ID: uuid.New(), RequesterID: requesterID}}, nil
		},
	}, &fakeRulesService{}, quietLogger())

	resp, err := srv.ListAppointments(context.Background(), &bookwisev1.ListAppointmentsRequest{RequesterID: "r1"})
	if err != nil {
		t.Fatalf("ListAppointments error: %v", err)
	}
	if gotFrom != nil || gotTo != nil {
		t.Fatalf("range = %v..%v, want unbounded", gotFrom, gotTo)
	}
	if len(resp.Appointments) != 1 || resp.Appointments[0].RequesterID != "r1" {
		t.Fatalf("appointments = %+v", resp.Appointments)
	}
}

func TestSetAvailability_RejectsBadTimes(t *testing.T) {
	srv := NewBookingServer(&fakeBookingService{}, &fakeRulesService{}, quietLogger())

	_, err := srv.SetAvailability(context.Background(), &bookwisev1.SetAvailabilityRequest{
		ProviderID: "p1",
		Rules:      []bookwisev1.AvailabilityRule{{DayOfWeek: 1, StartTime: "9am", EndTime: "17:00"}},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func startBufconn(t *testing.T, srv BookingServiceServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterBookingServiceServer(s, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBookingService_EndToEndOverJSONCodec(t *testing.T) {
	st := memory.New()
	rules := availability.NewService(st, quietLogger())
	dir, err := booking.NewStaticDirectory(6000, "USD", "UTC", nil, nil)
	if err != nil {
		t.Fatalf("NewStaticDirectory error: %v", err)
	}
	engine := booking.NewService(st, rules, dir, booking.WithLogger(quietLogger()))

	conn := startBufconn(t, NewBookingServer(engine, rules, quietLogger()))
	client := NewBookingClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	week := make([]bookwisev1.AvailabilityRule, 0, 7)
	for d := 0; d < 7; d++ {
		week = append(week, bookwisev1.AvailabilityRule{DayOfWeek: d, StartTime: "09:00", EndTime: "17:00"})
	}
	set, err := client.SetAvailability(ctx, &bookwisev1.SetAvailabilityRequest{ProviderID: "p1", Rules: week})
	if err != nil {
		t.Fatalf("SetAvailability error: %v", err)
	}
	if len(set.Rules) != 7 || set.Rules[0].ID == "" {
		t.Fatalf("rules = %+v", set.Rules)
	}

	date := time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
	reserve := &bookwisev1.ReserveRequest{ProviderID: "p1", RequesterID: "r1", Date: date, StartTime: "10:00", EndTime: "11:30"}

	res, err := client.Reserve(metadata.AppendToOutgoingContext(ctx, "idempotency-key", "abc"), reserve)
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if res.Appointment.Status != "pending" || res.Appointment.AmountCents != 9000 {
		t.Fatalf("appointment = %+v", res.Appointment)
	}

	replay, err := client.Reserve(metadata.AppendToOutgoingContext(ctx, "idempotency-key", "abc"), reserve)
	if err != nil || replay.Appointment.ID != res.Appointment.ID {
		t.Fatalf("replay = %+v, %v", replay, err)
	}

	overlap := &bookwisev1.ReserveRequest{ProviderID: "p1", RequesterID: "r2", Date: date, StartTime: "11:00", EndTime: "12:00"}
	if _, err := client.Reserve(ctx, overlap); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("overlap code = %s, want %s", status.Code(err), codes.FailedPrecondition)
	}

	tr, err := client.Transition(ctx, &bookwisev1.TransitionRequest{AppointmentID: res.Appointment.ID, Event: "confirm", Actor: "provider"})
	if err != nil || tr.Appointment.Status != "confirmed" {
		t.Fatalf("Transition = %+v, %v", tr, err)
	}

	list, err := client.ListAppointments(ctx, &bookwisev1.ListAppointmentsRequest{ProviderID: "p1", From: date, To: date})
	if err != nil {
		t.Fatalf("ListAppointments error: %v", err)
	}
	if len(list.Appointments) != 1 || list.Appointments[0].Status != "confirmed" {
		t.Fatalf("appointments = %+v", list.Appointments)
	}

	avail, err := client.QueryAvailability(ctx, &bookwisev1.QueryAvailabilityRequest{ProviderID: "p1", From: date, To: date})
	if err != nil {
		t.Fatalf("QueryAvailability error: %v", err)
	}
	if len(avail.Days) != 1 || len(avail.Days[0].Windows) != 2 || avail.Days[0].Windows[0].End != "10:00" || avail.Days[0].Windows[1].Start != "11:30" {
		t.Fatalf("days = %+v", avail.Days)
	}

	if _, err := client.GetAppointment(ctx, &bookwisev1.GetAppointmentRequest{AppointmentID: uuid.NewString()}); status.Code(err) != codes.NotFound {
		t.Fatalf("missing appointment code = %s, want %s", status.Code(err), codes.NotFound)
	}
}

func TestHealthService_ServesProtoAndJSON(t *testing.T) {
	conn := startBufconn(t, NewBookingServer(&fakeBookingService{}, &fakeRulesService{}, quietLogger()))
	hc := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check = %v, %v", resp, err)
	}

	resp, err = hc.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName}, grpc.CallContentSubtype(CodecName))
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check over json = %v, %v", resp, err)
	}
}

func TestJSONCodec_ProtoMessagesUseProtoJSON(t *testing.T) {
	c := jsonCodec{}
	b, err := c.Marshal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(b), `"NOT_SERVING"`) {
		t.Fatalf("Marshal = %s, want enum name", b)
	}
	var back healthpb.HealthCheckResponse
	if err := c.Unmarshal(b, &back); err != nil || back.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Unmarshal = %v, %v", back.Status, err)
	}

	var out bookwisev1.GetAppointmentRequest
	if err := c.Unmarshal([]byte(`{"appointment_id":"abc"}`), &out); err != nil || out.AppointmentID != "abc" {
		t.Fatalf("Unmarshal = %+v, %v", out, err)
	}
}

func TestBookingServer_LeavesOutcomeLoggingToTheEngine(t *testing.T) {
	appt := domain.Appointment{
		ID:         uuid.MustParse("00000000-0000-0000-0000-000000000011"),
		ProviderID: "p1",
		Date:       domain.NewDate(2026, 1, 5),
		StartTime:  domain.NewTimeOfDay(10, 0),
		EndTime:    domain.NewTimeOfDay(11, 0),
		Status:     domain.StatusPending,
	}
	reserveErr := error(nil)
	bookings := &fakeBookingService{
		reserveFn: func(ctx context.Context, in booking.ReserveInput) (domain.Appointment, error) {
			return appt, reserveErr
		},
		transitionFn: func(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error) {
			out := appt
			out.Status = domain.StatusConfirmed
			return out, nil
		},
	}
	rules := &fakeRulesService{
		setRulesFn: func(ctx context.Context, providerID string, in []availability.RuleInput) ([]domain.AvailabilityRule, error) {
			return []domain.AvailabilityRule{{ProviderID: providerID, DayOfWeek: 1, StartTime: 540, EndTime: 1020, IsEnabled: true}}, nil
		},
	}

	var buf bytes.Buffer
	srv := NewBookingServer(bookings, rules, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	ctx := context.Background()

	if _, err := srv.Reserve(ctx, validReserve()); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := srv.Transition(ctx, &bookwisev1.TransitionRequest{AppointmentID: appt.ID.String(), Event: "confirm"}); err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if _, err := srv.SetAvailability(ctx, &bookwisev1.SetAvailabilityRequest{
		ProviderID: "p1",
		Rules:      []bookwisev1.AvailabilityRule{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}},
	}); err != nil {
		t.Fatalf("SetAvailability error: %v", err)
	}

	reserveErr = store.ErrSlotTaken
	if _, err := srv.Reserve(ctx, validReserve()); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Reserve code = %v, want %v", status.Code(err), codes.FailedPrecondition)
	}

	if buf.Len() != 0 {
		t.Fatalf("transport logged at info or above: %s", buf.String())
	}
}
