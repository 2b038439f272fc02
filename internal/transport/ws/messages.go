package ws

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire envelope shared by both codecs.
//
//	inbound:  {"event":"joinRoom","room":"abc123","name":"Alice"}
//	          {"event":"message","room":"abc123","payload":<any>}
//	          {"event":"screenShare","room":"abc123","payload":<any>}
//	          {"event":"stopScreenShare","room":"abc123"}
//	          {"event":"leaveRoom","room":"abc123","name":"Alice"}
//	outbound: {"event":"connected","sender":"<id>"}
//	          {"event":"message","payload":<any>}
//	          {"event":"screenShare","sender":"<id>","payload":<any>}
//	          {"event":"stopScreenShare","sender":"<id>"}
type jsonFrame struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Name    string          `json:"name,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type msgpackFrame struct {
	Event   string             `msgpack:"event"`
	Room    string             `msgpack:"room,omitempty"`
	Name    string             `msgpack:"name,omitempty"`
	Sender  string             `msgpack:"sender,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// Subprotocols offered on upgrade, in server preference order.
const (
	SubprotocolJSON    = "json"
	SubprotocolMsgpack = "msgpack"
)
