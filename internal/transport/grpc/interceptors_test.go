package grpcx

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryServerInterceptor_RecoversPanic(t *testing.T) {
	ic := UnaryServerInterceptor(time.Second)
	info := &grpc.UnaryServerInfo{FullMethod: "/signaling.v1.RoomAdmin/ListRooms"}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}

func TestUnaryServerInterceptor_AddsDeadline(t *testing.T) {
	ic := UnaryServerInterceptor(50 * time.Millisecond)
	info := &grpc.UnaryServerInfo{FullMethod: "/x/y"}

	var hasDeadline bool
	resp, err := ic(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		_, hasDeadline = ctx.Deadline()
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
	if !hasDeadline {
		t.Errorf("handler context has no deadline")
	}
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor_RecoversPanic(t *testing.T) {
	ic := StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/x/stream"}

	err := ic(nil, ctxStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}
