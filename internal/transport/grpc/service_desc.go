package grpc

import (
	"context"

	"google.golang.org/grpc"

	bookwisev1 "bookwise/backend/internal/api/bookwise/v1"
)

const ServiceName = "bookwise.v1.BookingService"

type BookingServiceServer interface {
	SetAvailability(context.Context, *bookwisev1.SetAvailabilityRequest) (*bookwisev1.SetAvailabilityResponse, error)
	ListAvailabilityRules(context.Context, *bookwisev1.ListAvailabilityRulesRequest) (*bookwisev1.ListAvailabilityRulesResponse, error)
	QueryAvailability(context.Context, *bookwisev1.QueryAvailabilityRequest) (*bookwisev1.QueryAvailabilityResponse, error)
	Reserve(context.Context, *bookwisev1.ReserveRequest) (*bookwisev1.ReserveResponse, error)
	Transition(context.Context, *bookwisev1.TransitionRequest) (*bookwisev1.TransitionResponse, error)
	GetAppointment(context.Context, *bookwisev1.GetAppointmentRequest) (*bookwisev1.GetAppointmentResponse, error)
	ListAppointments(context.Context, *bookwisev1.ListAppointmentsRequest) (*bookwisev1.ListAppointmentsResponse, error)
}

var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetAvailability", Handler: unary("SetAvailability", BookingServiceServer.SetAvailability)},
		{MethodName: "ListAvailabilityRules", Handler: unary("ListAvailabilityRules", BookingServiceServer.ListAvailabilityRules)},
		{MethodName: "QueryAvailability", Handler: unary("QueryAvailability", BookingServiceServer.QueryAvailability)},
		{MethodName: "Reserve", Handler: unary("Reserve", BookingServiceServer.Reserve)},
		{MethodName: "Transition", Handler: unary("Transition", BookingServiceServer.Transition)},
		{MethodName: "GetAppointment", Handler: unary("GetAppointment", BookingServiceServer.GetAppointment)},
		{MethodName: "ListAppointments", Handler: unary("ListAppointments", BookingServiceServer.ListAppointments)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookwise/v1/booking.json",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary[Req, Resp any](method string, call func(BookingServiceServer, context.Context, *Req) (*Resp, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BookingClient calls the booking service with the JSON codec.
type BookingClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingClient(cc grpc.ClientConnInterface) *BookingClient {
	return &BookingClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingClient) SetAvailability(ctx context.Context, in *bookwisev1.SetAvailabilityRequest, opts ...grpc.CallOption) (*bookwisev1.SetAvailabilityResponse, error) {
	return invoke[bookwisev1.SetAvailabilityResponse](ctx, c.cc, "SetAvailability", in, opts)
}

func (c *BookingClient) ListAvailabilityRules(ctx context.Context, in *bookwisev1.ListAvailabilityRulesRequest, opts ...grpc.CallOption) (*bookwisev1.ListAvailabilityRulesResponse, error) {
	return invoke[bookwisev1.ListAvailabilityRulesResponse](ctx, c.cc, "ListAvailabilityRules", in, opts)
}

func (c *BookingClient) QueryAvailability(ctx context.Context, in *bookwisev1.QueryAvailabilityRequest, opts ...grpc.CallOption) (*bookwisev1.QueryAvailabilityResponse, error) {
	return invoke[bookwisev1.QueryAvailabilityResponse](ctx, c.cc, "QueryAvailability", in, opts)
}

func (c *BookingClient) Reserve(ctx context.Context, in *bookwisev1.ReserveRequest, opts ...grpc.CallOption) (*bookwisev1.ReserveResponse, error) {
	return invoke[bookwisev1.ReserveResponse](ctx, c.cc, "Reserve", in, opts)
}

func (c *BookingClient) Transition(ctx context.Context, in *bookwisev1.TransitionRequest, opts ...grpc.CallOption) (*bookwisev1.TransitionResponse, error) {
	return invoke[bookwisev1.TransitionResponse](ctx, c.cc, "Transition", in, opts)
}

func (c *BookingClient) GetAppointment(ctx context.Context, in *bookwisev1.GetAppointmentRequest, opts ...grpc.CallOption) (*bookwisev1.GetAppointmentResponse, error) {
	return invoke[bookwisev1.GetAppointmentResponse](ctx, c.cc, "GetAppointment", in, opts)
}

func (c *BookingClient) ListAppointments(ctx context.Context, in *bookwisev1.ListAppointmentsRequest, opts ...grpc.CallOption) (*bookwisev1.ListAppointmentsResponse, error) {
	return invoke[bookwisev1.ListAppointmentsResponse](ctx, c.cc, "ListAppointments", in, opts)
}
