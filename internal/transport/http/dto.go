package http

type ErrorResponse struct {
	Error string `json:"error"`
}

type RoomItem struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

type ListRoomsResponse struct {
	Items []RoomItem `json:"items"`
}

type MemberItem struct {
	ConnID string `json:"conn_id"`
	Name   string `json:"name"`
}

type MembersResponse struct {
	RoomID string       `json:"room_id"`
	Items  []MemberItem `json:"items"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}
