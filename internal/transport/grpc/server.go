package grpcx

import (
	"context"
	"errors"
	"strings"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "signaling.v1.RoomAdmin"

// RoomAdminServer is the read-only admin surface over live rooms.
type RoomAdminServer interface {
	ListRooms(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetMembers(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

type Server struct {
	roomSvc *service.RoomService
}

func NewServer(roomSvc *service.RoomService) *Server {
	return &Server{roomSvc: roomSvc}
}

func Register(grpcServer *grpc.Server, s RoomAdminServer) {
	grpcServer.RegisterService(&roomAdminDesc, s)
}

// -------- methods --------

func (s *Server) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	rooms := s.roomSvc.ListRooms()
	items := make([]any, 0, len(rooms))
	for _, r := range rooms {
		items = append(items, map[string]any{"id": validUTF8(r.ID), "members": r.Members})
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Server) GetMembers(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	roomID := in.GetValue()
	members, err := s.roomSvc.Members(roomID)
	if err != nil {
		return nil, mapErr(err)
	}
	byConn := make(map[string]any, len(members))
	for _, m := range members {
		byConn[validUTF8(string(m.ConnID))] = validUTF8(m.Name)
	}
	out, err := structpb.NewStruct(map[string]any{
		"room_id": validUTF8(roomID),
		"members": byConn,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// -------- helpers --------

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// validUTF8 makes client-chosen ids and names safe for protobuf strings,
// which reject invalid UTF-8.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// -------- service descriptor --------

var roomAdminDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RoomAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "GetMembers", Handler: getMembersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signaling/v1/room_admin.proto",
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomAdminServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListRooms"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomAdminServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getMembersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomAdminServer).GetMembers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetMembers"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomAdminServer).GetMembers(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RoomAdminClient calls the admin service over cc.
type RoomAdminClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomAdminClient(cc grpc.ClientConnInterface) *RoomAdminClient {
	return &RoomAdminClient{cc: cc}
}

func (c *RoomAdminClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListRooms", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RoomAdminClient) GetMembers(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetMembers", wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
