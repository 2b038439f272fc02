package domain

import (
	"encoding/json"
	"fmt"
)

// Kind tags an outbound event.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindMessage         Kind = "message"
	KindScreenShare     Kind = "screenShare"
	KindStopScreenShare Kind = "stopScreenShare"
)

// Encoding names the wire format a payload was received in.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgpack
)

func (e Encoding) String() string {
	if e == EncodingMsgpack {
		return "msgpack"
	}
	return "json"
}

// Payload is opaque client data: the bytes exactly as the sender encoded them,
// tagged with their encoding. The service forwards it without inspecting it.
type Payload struct {
	Encoding Encoding
	Raw      []byte
}

func JSONPayload(raw []byte) Payload { return Payload{Encoding: EncodingJSON, Raw: raw} }

func MsgpackPayload(raw []byte) Payload { return Payload{Encoding: EncodingMsgpack, Raw: raw} }

func (p Payload) Empty() bool { return len(p.Raw) == 0 }

// Event is what the service fans out to connections.
type Event struct {
	Kind    Kind
	Sender  ConnID
	Payload Payload
}

// Notice builds a system text message such as "Alice has joined the room.".
func Notice(text string) Event {
	b, _ := json.Marshal(text)
	return Event{Kind: KindMessage, Payload: JSONPayload(b)}
}

func JoinedNotice(name string) Event {
	return Notice(fmt.Sprintf("%s has joined the room.", name))
}

func LeftNotice(name string) Event {
	return Notice(fmt.Sprintf("%s has left the room.", name))
}

// Inbound event names as sent by clients.
const (
	InJoinRoom        = "joinRoom"
	InLeaveRoom       = "leaveRoom"
	InMessage         = "message"
	InScreenShare     = "screenShare"
	InStopScreenShare = "stopScreenShare"
)

// Inbound is a decoded client event.
type Inbound struct {
	Event   string
	RoomID  string
	Name    string
	Payload Payload
}
