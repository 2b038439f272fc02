package domain

import "time"

// ConnID identifies one live transport session for its whole lifetime.
type ConnID string

func (id ConnID) String() string { return string(id) }

// Member is a by-value copy of a connection's membership in a room.
type Member struct {
	ConnID ConnID `json:"conn_id"`
	Name   string `json:"name"`
}

// RoomInfo is a point-in-time summary of a registry room.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// TransitionKind names a membership change.
type TransitionKind string

const (
	TransitionJoin       TransitionKind = "join"
	TransitionLeave      TransitionKind = "leave"
	TransitionDisconnect TransitionKind = "disconnect"
)

// Transition records one membership change of a connection.
type Transition struct {
	Kind   TransitionKind
	RoomID string
	ConnID ConnID
	Name   string
	At     time.Time
}
