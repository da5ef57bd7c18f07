package api

import (
	"context"
	"encoding/json"
	"strings"

	"manito/internal/domain"
	"manito/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The booking query service speaks google.protobuf.Struct so it needs no
// generated code. Requests carry {"booking_id": "..."}.
const (
	bookingQueryServiceName = "manito.booking.v1.BookingQuery"
	methodGetPricingSummary = "/" + bookingQueryServiceName + "/GetPricingSummary"
	methodGetBooking        = "/" + bookingQueryServiceName + "/GetBooking"
)

// BookingQueryServer is the server API for the booking query service.
type BookingQueryServer interface {
	GetPricingSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterBookingQueryServer(s grpc.ServiceRegistrar, srv BookingQueryServer) {
	s.RegisterService(&bookingQueryServiceDesc, srv)
}

var bookingQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingQueryServiceName,
	HandlerType: (*BookingQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPricingSummary", Handler: unaryHandler(methodGetPricingSummary, BookingQueryServer.GetPricingSummary)},
		{MethodName: "GetBooking", Handler: unaryHandler(methodGetBooking, BookingQueryServer.GetBooking)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "manito/booking/v1/booking_query.proto",
}

type structMethod func(BookingQueryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingQueryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BookingQueryClient calls the booking query service.
type BookingQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingQueryClient(cc grpc.ClientConnInterface) *BookingQueryClient {
	return &BookingQueryClient{cc: cc}
}

func (c *BookingQueryClient) GetPricingSummary(ctx context.Context, bookingID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetPricingSummary, bookingID, opts...)
}

func (c *BookingQueryClient) GetBooking(ctx context.Context, bookingID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetBooking, bookingID, opts...)
}

func (c *BookingQueryClient) invoke(ctx context.Context, method, bookingID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"booking_id": bookingID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// BookingQueryService answers read-only booking queries for internal
// services. Authenticated callers act as the platform.
type BookingQueryService struct {
	bookings domain.BookingService
}

func NewBookingQueryService(bookings domain.BookingService) *BookingQueryService {
	return &BookingQueryService{bookings: bookings}
}

func (s *BookingQueryService) GetPricingSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := bookingIDFrom(req)
	if err != nil {
		return nil, err
	}
	summary, err := s.bookings.GetBookingPricingSummary(ctx, id, models.System)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return toStruct(summary)
}

func (s *BookingQueryService) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := bookingIDFrom(req)
	if err != nil {
		return nil, err
	}
	details, err := s.bookings.GetBooking(ctx, id, models.System)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return toStruct(details)
}

func bookingIDFrom(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()["booking_id"]
	if !ok {
		return "", status.Error(codes.InvalidArgument, "booking_id is required")
	}
	id := strings.TrimSpace(v.GetStringValue())
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "booking_id is required")
	}
	return id, nil
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}
