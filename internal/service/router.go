package service

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

// Router maps inbound client events onto session operations.
//
//	joinRoom        -> all members after the join, joiner included
//	message         -> all members, payload verbatim
//	screenShare     -> all members but the sender
//	stopScreenShare -> all members but the sender
//	leaveRoom       -> remaining members
//
// Disconnect has no inbound event; the transport calls SessionService.Disconnect.
type Router struct {
	sessions *SessionService
}

func NewRouter(sessions *SessionService) *Router {
	return &Router{sessions: sessions}
}

// Dispatch applies in to s. Events naming an unknown room or a room the sender
// is not in are dropped silently; only an unknown event name is an error.
func (r *Router) Dispatch(ctx context.Context, s *Session, in domain.Inbound) error {
	switch in.Event {
	case domain.InJoinRoom:
		r.sessions.Join(ctx, s, in.RoomID, in.Name)
	case domain.InLeaveRoom:
		r.sessions.Leave(ctx, s, in.RoomID, in.Name)
	case domain.InMessage:
		r.sessions.Message(ctx, s, in.RoomID, in.Payload)
	case domain.InScreenShare:
		r.sessions.ScreenShare(ctx, s, in.RoomID, in.Payload)
	case domain.InStopScreenShare:
		r.sessions.StopScreenShare(ctx, s, in.RoomID)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, in.Event)
	}
	return nil
}
