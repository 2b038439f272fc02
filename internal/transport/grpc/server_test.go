package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type nopDispatcher struct{}

func (nopDispatcher) Deliver([]domain.ConnID, domain.Event) {}

func startAdmin(t *testing.T, reg *registry.Registry) *RoomAdminClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(time.Second)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	Register(srv, NewServer(service.NewRoomService(reg)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return NewRoomAdminClient(cc)
}

func TestRoomAdmin(t *testing.T) {
	reg := registry.New(registry.Options{})
	sessions := service.NewSessionService(reg, nopDispatcher{})
	client := startAdmin(t, reg)
	ctx := context.Background()

	a, b := sessions.Connect(), sessions.Connect()
	sessions.Join(ctx, a, "abc123", "Alice")
	sessions.Join(ctx, b, "abc123", "Bob")

	list, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(list.GetValues()) != 1 {
		t.Fatalf("rooms = %v", list.AsSlice())
	}
	room := list.GetValues()[0].GetStructValue().AsMap()
	if room["id"] != "abc123" || room["members"] != float64(2) {
		t.Errorf("room = %v", room)
	}

	got, err := client.GetMembers(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	members := got.AsMap()["members"].(map[string]any)
	if members[string(a.ID())] != "Alice" || members[string(b.ID())] != "Bob" {
		t.Errorf("members = %v", members)
	}

	if _, err := client.GetMembers(ctx, "nope00"); status.Code(err) != codes.NotFound {
		t.Errorf("unknown room code = %v, want NotFound", status.Code(err))
	}
	if _, err := client.GetMembers(ctx, ""); status.Code(err) != codes.NotFound {
		t.Errorf("empty id code = %v, want NotFound", status.Code(err))
	}
}

func TestRoomAdmin_EmptyRoomIDIsAnOrdinaryRoom(t *testing.T) {
	reg := registry.New(registry.Options{})
	sessions := service.NewSessionService(reg, nopDispatcher{})
	client := startAdmin(t, reg)
	ctx := context.Background()

	a := sessions.Connect()
	sessions.Join(ctx, a, "", "Nobody")

	got, err := client.GetMembers(ctx, "")
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	m := got.AsMap()
	if m["room_id"] != "" || m["members"].(map[string]any)[string(a.ID())] != "Nobody" {
		t.Errorf("members = %v", m)
	}
}

func TestRoomAdmin_InvalidUTF8IsReplaced(t *testing.T) {
	reg := registry.New(registry.Options{})
	sessions := service.NewSessionService(reg, nopDispatcher{})
	client := startAdmin(t, reg)
	ctx := context.Background()

	a, b := sessions.Connect(), sessions.Connect()
	sessions.Join(ctx, a, "bad\xff", "Zoe")
	sessions.Join(ctx, b, "fine", "n\xfe")

	list, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	ids := map[any]bool{}
	for _, v := range list.GetValues() {
		ids[v.GetStructValue().AsMap()["id"]] = true
	}
	if !ids["bad\uFFFD"] || !ids["fine"] {
		t.Errorf("room ids = %v", ids)
	}

	got, err := client.GetMembers(ctx, "fine")
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	if name := got.AsMap()["members"].(map[string]any)[string(b.ID())]; name != "n\uFFFD" {
		t.Errorf("name = %q, want replacement character", name)
	}
}
