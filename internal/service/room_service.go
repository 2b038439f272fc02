package service

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/registry"
)

const (
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDLen      = 6
	roomIDAttempts = 32
)

var errNoFreeRoomID = errors.New("no free room id")

// RoomService answers read-only questions about the registry.
type RoomService struct {
	rooms *registry.Registry
}

func NewRoomService(rooms *registry.Registry) *RoomService {
	return &RoomService{rooms: rooms}
}

// ListRooms returns every known room with its member count.
func (s *RoomService) ListRooms() []domain.RoomInfo {
	return s.rooms.Rooms()
}

// Members returns the members of roomID ordered by name, then connection id.
func (s *RoomService) Members(roomID string) ([]domain.Member, error) {
	if !s.rooms.Has(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	snap := s.rooms.Members(roomID)
	out := make([]domain.Member, 0, len(snap))
	for id, name := range snap {
		out = append(out, domain.Member{ConnID: id, Name: name})
	}
	sortMembers(out)
	return out, nil
}

// NewRoomID returns a short random id that is not currently registered.
// Nothing is reserved: the room comes into existence on its first join.
func (s *RoomService) NewRoomID() (string, error) {
	for i := 0; i < roomIDAttempts; i++ {
		id, err := randomID(roomIDLen)
		if err != nil {
			return "", err
		}
		if !s.rooms.Has(id) {
			return id, nil
		}
	}
	return "", errNoFreeRoomID
}

func randomID(n int) (string, error) {
	max := big.NewInt(int64(len(roomIDAlphabet)))
	b := make([]byte, n)
	for i := range b {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = roomIDAlphabet[k.Int64()]
	}
	return string(b), nil
}

func sortMembers(ms []domain.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Name != ms[j].Name {
			return ms[i].Name < ms[j].Name
		}
		return ms[i].ConnID < ms[j].ConnID
	})
}
