package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	roomSvc *service.RoomService
}

func NewHandler(room *service.RoomService) *Handler {
	return &Handler{roomSvc: room}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.roomSvc.ListRooms()
	out := ListRoomsResponse{Items: make([]RoomItem, 0, len(rooms))}
	for _, rm := range rooms {
		out.Items = append(out.Items, RoomItem{ID: rm.ID, Members: rm.Members})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /rooms/{id}/members
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	id, err := roomParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed room id"})
		return
	}
	members, err := h.roomSvc.Members(id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		slog.ErrorContext(r.Context(), "handler.Members", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	out := MembersResponse{RoomID: id, Items: make([]MemberItem, 0, len(members))}
	for _, m := range members {
		out.Items = append(out.Items, MemberItem{ConnID: string(m.ConnID), Name: m.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// roomParam returns the {id} segment unescaped. chi routes on RawPath when
// the request carries one (an id with "/" arrives as %2F), and on the already
// decoded Path otherwise.
func roomParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := h.roomSvc.NewRoomID()
	if err != nil {
		slog.ErrorContext(r.Context(), "handler.CreateRoom", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not allocate room id"})
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: id})
}
