package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/registry"

	"github.com/google/uuid"
)

// Dispatcher delivers an event to locally attached connections. It must not
// block: slow recipients drop the event.
type Dispatcher interface {
	Deliver(to []domain.ConnID, ev domain.Event)
}

// Publisher forwards a room event to other instances. Fire-and-forget.
type Publisher interface {
	Publish(roomID string, except domain.ConnID, ev domain.Event)
}

// Journal records membership transitions. Fire-and-forget.
type Journal interface {
	Record(t domain.Transition)
}

// LeaveName selects where an explicit leave notice takes the name from.
type LeaveName string

const (
	LeaveNameStored LeaveName = "stored" // name held by the registry
	LeaveNameClient LeaveName = "client" // name supplied with leaveRoom
)

// Session is the server-side state of one connection.
type Session struct {
	id domain.ConnID

	mu      sync.Mutex
	name    string
	room    string
	joined  bool
	sharing bool
	closed  bool
}

func (s *Session) ID() domain.ConnID { return s.id }

// State returns the current room, display name and whether the session is joined.
func (s *Session) State() (room, name string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.name, s.joined
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionService keeps session state and registry membership consistent across
// join, leave and disconnect. Lock order is session -> registry -> room.
type SessionService struct {
	rooms     *registry.Registry
	out       Dispatcher
	pub       Publisher
	journal   Journal
	leaveName LeaveName
	now       func() time.Time
}

type Option func(*SessionService)

func WithPublisher(p Publisher) Option { return func(s *SessionService) { s.pub = p } }

func WithJournal(j Journal) Option { return func(s *SessionService) { s.journal = j } }

func WithLeaveName(n LeaveName) Option {
	return func(s *SessionService) {
		if n == LeaveNameClient || n == LeaveNameStored {
			s.leaveName = n
		}
	}
}

func NewSessionService(rooms *registry.Registry, out Dispatcher, opts ...Option) *SessionService {
	s := &SessionService{
		rooms:     rooms,
		out:       out,
		leaveName: LeaveNameStored,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect allocates a session for a newly established transport.
func (svc *SessionService) Connect() *Session {
	return &Session{id: domain.ConnID(uuid.NewString())}
}

func (svc *SessionService) emit(roomID string, audience []domain.ConnID, except domain.ConnID, ev domain.Event) {
	svc.out.Deliver(audience, ev)
	if svc.pub != nil {
		svc.pub.Publish(roomID, except, ev)
	}
}

func (svc *SessionService) record(kind domain.TransitionKind, roomID string, id domain.ConnID, name string) {
	if svc.journal == nil {
		return
	}
	svc.journal.Record(domain.Transition{
		Kind:   kind,
		RoomID: roomID,
		ConnID: id,
		Name:   name,
		At:     svc.now(),
	})
}

// Join puts the session into roomID under name and announces it to every
// member, the joiner included. A session already in another room leaves it
// first.
func (svc *SessionService) Join(ctx context.Context, s *Session, roomID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		slog.DebugContext(ctx, "join on closed session", "conn", s.id, "room", roomID)
		return
	}
	if s.joined && s.room != roomID {
		svc.leaveLocked(ctx, s, s.room, nil, domain.TransitionLeave)
	}

	svc.rooms.AddMember(roomID, s.id, name, func(audience []domain.ConnID) {
		svc.emit(roomID, audience, "", domain.JoinedNotice(name))
	})
	s.room, s.name, s.joined = roomID, name, true
	svc.record(domain.TransitionJoin, roomID, s.id, name)

	slog.InfoContext(ctx, "session joined", "conn", s.id, "room", roomID, "name", name)
}

// Leave removes the session from roomID and tells the remaining members. A
// session that is not a member of roomID is left untouched and nothing is sent.
func (svc *SessionService) Leave(ctx context.Context, s *Session, roomID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	var shown func(string) string
	if svc.leaveName == LeaveNameClient {
		shown = func(string) string { return name }
	}
	if !svc.leaveLocked(ctx, s, roomID, shown, domain.TransitionLeave) {
		slog.DebugContext(ctx, "leave ignored, not a member", "conn", s.id, "room", roomID)
	}
}

// Disconnect tears the session down after transport loss. The leave notice
// always uses the name held by the registry. Calling it again is a no-op.
func (svc *SessionService) Disconnect(ctx context.Context, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.joined {
		svc.leaveLocked(ctx, s, s.room, nil, domain.TransitionDisconnect)
	}
	slog.InfoContext(ctx, "session closed", "conn", s.id)
}

// leaveLocked requires s.mu. shown picks the name for the leave notice from
// the stored one; nil announces the stored name.
func (svc *SessionService) leaveLocked(ctx context.Context, s *Session, roomID string, shown func(stored string) string, kind domain.TransitionKind) bool {
	current := s.joined && s.room == roomID

	if current && s.sharing {
		ev := domain.Event{Kind: domain.KindStopScreenShare, Sender: s.id}
		svc.rooms.Broadcast(roomID, s.id, func(audience []domain.ConnID) {
			svc.emit(roomID, audience, s.id, ev)
		})
		s.sharing = false
	}

	stored, ok := svc.rooms.RemoveMember(roomID, s.id, func(stored string, remaining []domain.ConnID) {
		name := stored
		if shown != nil {
			name = shown(stored)
		}
		svc.emit(roomID, remaining, s.id, domain.LeftNotice(name))
	})
	if current {
		s.room, s.joined = "", false
	}
	if !ok {
		return false
	}

	svc.record(kind, roomID, s.id, stored)
	slog.InfoContext(ctx, "session left", "conn", s.id, "room", roomID, "name", stored, "reason", string(kind))
	return true
}

// inRoom reports whether s may send to roomID. Requires s.mu.
func inRoom(s *Session, roomID string) bool {
	return !s.closed && s.joined && s.room == roomID
}

// Message relays payload verbatim to every member of roomID, sender included.
func (svc *SessionService) Message(ctx context.Context, s *Session, roomID string, payload domain.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRoom(s, roomID) {
		slog.DebugContext(ctx, "message dropped, sender not in room", "conn", s.id, "room", roomID)
		return
	}
	ev := domain.Event{Kind: domain.KindMessage, Payload: payload}
	svc.rooms.Broadcast(roomID, "", func(audience []domain.ConnID) {
		svc.emit(roomID, audience, "", ev)
	})
}

// ScreenShare announces the sender's stream description to the other members.
func (svc *SessionService) ScreenShare(ctx context.Context, s *Session, roomID string, payload domain.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRoom(s, roomID) {
		slog.DebugContext(ctx, "screen share dropped, sender not in room", "conn", s.id, "room", roomID)
		return
	}
	s.sharing = true
	ev := domain.Event{Kind: domain.KindScreenShare, Sender: s.id, Payload: payload}
	svc.rooms.Broadcast(roomID, s.id, func(audience []domain.ConnID) {
		svc.emit(roomID, audience, s.id, ev)
	})
}

// StopScreenShare tells the other members the sender stopped sharing.
func (svc *SessionService) StopScreenShare(ctx context.Context, s *Session, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRoom(s, roomID) {
		slog.DebugContext(ctx, "stop share dropped, sender not in room", "conn", s.id, "room", roomID)
		return
	}
	s.sharing = false
	ev := domain.Event{Kind: domain.KindStopScreenShare, Sender: s.id}
	svc.rooms.Broadcast(roomID, s.id, func(audience []domain.ConnID) {
		svc.emit(roomID, audience, s.id, ev)
	})
}

// DeliverRemote fans an event received from another instance out to local
// members of roomID. It is never re-published.
func (svc *SessionService) DeliverRemote(roomID string, except domain.ConnID, ev domain.Event) {
	svc.rooms.Broadcast(roomID, except, func(audience []domain.ConnID) {
		svc.out.Deliver(audience, ev)
	})
}
