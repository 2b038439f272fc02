package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

type testServer struct {
	ts  *httptest.Server
	hub *Hub
	srv *Server
	reg *registry.Registry
}

func startServer(t *testing.T, opts ...service.Option) testServer {
	t.Helper()
	reg := registry.New(registry.Options{})
	hub := NewHub()
	sessions := service.NewSessionService(reg, hub, opts...)
	srv := NewServer(hub, sessions, service.NewRouter(sessions), Options{})

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return testServer{ts: ts, hub: hub, srv: srv, reg: reg}
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	s := startServer(t)
	return s.ts, s.reg
}

func dial(t *testing.T, ts *httptest.Server, subprotocols ...string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	c, _, err := d.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func next(t *testing.T, c *websocket.Conn) jsonFrame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}

func readMsgpack(t *testing.T, c *websocket.Conn) msgpackFrame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	var f msgpackFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func sendMsgpack(t *testing.T, c *websocket.Conn, f msgpackFrame) {
	t.Helper()
	data, err := msgpack.Marshal(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectNotice(t *testing.T, c *websocket.Conn, text string) {
	t.Helper()
	f := next(t, c)
	want, _ := json.Marshal(text)
	if f.Event != "message" || string(f.Payload) != string(want) {
		t.Fatalf("got %s %s, want notice %q", f.Event, f.Payload, text)
	}
}

func TestServer_RoomLifecycle(t *testing.T) {
	ts, reg := newTestServer(t)

	c1 := dial(t, ts)
	hello := next(t, c1)
	if hello.Event != "connected" || hello.Sender == "" {
		t.Fatalf("first frame = %+v, want connected with id", hello)
	}

	send(t, c1, `{"event":"joinRoom","room":"abc123","name":"Bob"}`)
	expectNotice(t, c1, "Bob has joined the room.")

	c2 := dial(t, ts)
	c2ID := next(t, c2).Sender
	send(t, c2, `{"event":"joinRoom","room":"abc123","name":"Alice"}`)
	expectNotice(t, c1, "Alice has joined the room.")
	expectNotice(t, c2, "Alice has joined the room.")

	send(t, c1, `{"event":"message","room":"abc123","payload":{"text":"hi"}}`)
	for _, c := range []*websocket.Conn{c1, c2} {
		if f := next(t, c); f.Event != "message" || string(f.Payload) != `{"text":"hi"}` {
			t.Fatalf("chat frame = %s %s", f.Event, f.Payload)
		}
	}

	send(t, c2, `{"event":"screenShare","room":"abc123","payload":{"sdp":"offer"}}`)
	f := next(t, c1)
	if f.Event != "screenShare" || f.Sender != c2ID || string(f.Payload) != `{"sdp":"offer"}` {
		t.Fatalf("screen share frame = %+v", f)
	}

	// The sharer is not echoed: its next frame is the following chat line.
	send(t, c1, `{"event":"message","room":"abc123","payload":"after"}`)
	if f := next(t, c2); f.Event != "message" || string(f.Payload) != `"after"` {
		t.Fatalf("sharer got %s %s, want the chat line", f.Event, f.Payload)
	}
	next(t, c1)

	_ = c2.Close()
	if f := next(t, c1); f.Event != "stopScreenShare" || f.Sender != c2ID {
		t.Fatalf("frame after sharer dropped = %+v, want stopScreenShare", f)
	}
	expectNotice(t, c1, "Alice has left the room.")

	if got := reg.Members("abc123"); len(got) != 1 {
		t.Errorf("members after disconnect = %v", got)
	}
}

func TestServer_IgnoresBadFrames(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts)
	next(t, c)

	send(t, c, `garbage`)
	send(t, c, `{"event":"teleport","room":"x"}`)
	send(t, c, `{"event":"message","room":"nowhere","payload":1}`)
	send(t, c, `{"event":"joinRoom","room":"r1","name":"Eve"}`)

	expectNotice(t, c, "Eve has joined the room.")
}

func TestServer_Msgpack(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts, SubprotocolMsgpack)
	if c.Subprotocol() != SubprotocolMsgpack {
		t.Fatalf("negotiated %q", c.Subprotocol())
	}

	if f := readMsgpack(t, c); f.Event != "connected" {
		t.Fatalf("first frame = %+v", f)
	}

	sendMsgpack(t, c, msgpackFrame{Event: "joinRoom", Room: "mp", Name: "Zed"})

	f := readMsgpack(t, c)
	var text string
	if err := msgpack.Unmarshal(f.Payload, &text); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if f.Event != "message" || text != "Zed has joined the room." {
		t.Errorf("notice = %s %q", f.Event, text)
	}
}

func TestServer_MixedCodecsInOneRoom(t *testing.T) {
	ts, _ := newTestServer(t)

	j := dial(t, ts)
	next(t, j)
	send(t, j, `{"event":"joinRoom","room":"mix","name":"Jay"}`)
	expectNotice(t, j, "Jay has joined the room.")

	m := dial(t, ts, SubprotocolMsgpack)
	readMsgpack(t, m)
	sendMsgpack(t, m, msgpackFrame{Event: "joinRoom", Room: "mix", Name: "Em"})
	readMsgpack(t, m)
	expectNotice(t, j, "Em has joined the room.")

	payload, _ := msgpack.Marshal(map[int]int64{1: 9007199254740993})
	sendMsgpack(t, m, msgpackFrame{Event: "message", Room: "mix", Payload: payload})

	if f := next(t, j); f.Event != "message" || string(f.Payload) != `{"1":9007199254740993}` {
		t.Fatalf("json member got %s %s", f.Event, f.Payload)
	}
	if f := readMsgpack(t, m); !bytes.Equal(f.Payload, payload) {
		t.Errorf("msgpack sender got %x, want its own bytes %x", []byte(f.Payload), payload)
	}
}

type recordingJournal struct {
	mu  sync.Mutex
	log []domain.Transition
}

func (j *recordingJournal) Record(t domain.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log = append(j.log, t)
}

func (j *recordingJournal) kinds() []domain.TransitionKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.TransitionKind, 0, len(j.log))
	for _, t := range j.log {
		out = append(out, t.Kind)
	}
	return out
}

func TestServer_WaitCoversDisconnectAfterCloseAll(t *testing.T) {
	jr := &recordingJournal{}
	s := startServer(t, service.WithJournal(jr))

	c := dial(t, s.ts)
	next(t, c)
	send(t, c, `{"event":"joinRoom","room":"r","name":"Ann"}`)
	expectNotice(t, c, "Ann has joined the room.")

	s.hub.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	kinds := jr.kinds()
	if len(kinds) != 2 || kinds[1] != domain.TransitionDisconnect {
		t.Errorf("journal = %v, want join then disconnect", kinds)
	}
	if n := len(s.reg.Members("r")); n != 0 {
		t.Errorf("members after shutdown = %d", n)
	}
}

func TestServer_WaitHonorsContext(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.ts)
	next(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.srv.Wait(ctx); err == nil {
		t.Errorf("Wait returned nil with a live connection and a done context")
	}
}
