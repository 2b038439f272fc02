package domain

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnknownEvent = errors.New("unknown event")
)
