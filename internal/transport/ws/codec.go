package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var errEmptyEvent = errors.New("frame without event")

// Codec turns frames into inbound events and outbound events into frames.
// Payload bytes are kept exactly as received; Encode only converts them when
// the recipient speaks a different encoding than the sender.
type Codec interface {
	Name() string
	MessageType() int
	Decode(data []byte) (domain.Inbound, error)
	Encode(ev domain.Event) ([]byte, error)
}

func codecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Decode(data []byte) (domain.Inbound, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Inbound{}, fmt.Errorf("decode json frame: %w", err)
	}
	if f.Event == "" {
		return domain.Inbound{}, errEmptyEvent
	}
	in := domain.Inbound{Event: f.Event, RoomID: f.Room, Name: f.Name}
	if len(f.Payload) > 0 {
		in.Payload = domain.JSONPayload(f.Payload)
	}
	return in, nil
}

func (jsonCodec) Encode(ev domain.Event) ([]byte, error) {
	raw, err := asJSON(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonFrame{
		Event:   string(ev.Kind),
		Sender:  string(ev.Sender),
		Payload: raw,
	})
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return SubprotocolMsgpack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Decode(data []byte) (domain.Inbound, error) {
	var f msgpackFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return domain.Inbound{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	if f.Event == "" {
		return domain.Inbound{}, errEmptyEvent
	}
	in := domain.Inbound{Event: f.Event, RoomID: f.Room, Name: f.Name}
	if len(f.Payload) > 0 {
		in.Payload = domain.MsgpackPayload(f.Payload)
	}
	return in, nil
}

func (msgpackCodec) Encode(ev domain.Event) ([]byte, error) {
	raw, err := asMsgpack(ev.Payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackFrame{
		Event:   string(ev.Kind),
		Sender:  string(ev.Sender),
		Payload: raw,
	})
}
