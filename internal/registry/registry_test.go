package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

func ids(in []domain.ConnID) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

func TestEnsureRoom_Idempotent(t *testing.T) {
	r := New(Options{})

	a := r.EnsureRoom("abc123")
	b := r.EnsureRoom("abc123")
	if a != b {
		t.Fatalf("EnsureRoom returned different handles for the same id")
	}
	if !r.Has("abc123") {
		t.Fatalf("room abc123 missing after EnsureRoom")
	}
	if got := r.EnsureRoom("").ID(); got != "" {
		t.Errorf("empty id room ID = %q, want empty", got)
	}
}

func TestAddMember_DeliversPostJoinAudience(t *testing.T) {
	r := New(Options{})

	var first, second []domain.ConnID
	r.AddMember("abc123", "c1", "Alice", func(a []domain.ConnID) { first = a })
	r.AddMember("abc123", "c2", "Bob", func(a []domain.ConnID) { second = a })

	if got := ids(first); len(got) != 1 || got[0] != "c1" {
		t.Errorf("first audience = %v, want [c1]", got)
	}
	if got := ids(second); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("second audience = %v, want [c1 c2]", got)
	}

	m := r.Members("abc123")
	if m["c1"] != "Alice" || m["c2"] != "Bob" {
		t.Errorf("members = %v", m)
	}
}

func TestAddMember_OverwritesName(t *testing.T) {
	r := New(Options{})
	r.AddMember("room", "c1", "Alice", nil)
	r.AddMember("room", "c1", "Alicia", nil)

	name, ok := r.Member("room", "c1")
	if !ok || name != "Alicia" {
		t.Fatalf("Member = %q,%v want Alicia,true", name, ok)
	}
	if n := len(r.Members("room")); n != 1 {
		t.Errorf("len(Members) = %d, want 1", n)
	}
}

func TestRemoveMember_NoopOnUnknown(t *testing.T) {
	r := New(Options{})

	called := false
	if _, ok := r.RemoveMember("nope", "c1", func(string, []domain.ConnID) { called = true }); ok {
		t.Errorf("RemoveMember on unknown room reported ok")
	}

	r.AddMember("room", "c1", "Alice", nil)
	if _, ok := r.RemoveMember("room", "c2", func(string, []domain.ConnID) { called = true }); ok {
		t.Errorf("RemoveMember of non-member reported ok")
	}
	if called {
		t.Errorf("departure callback ran for a no-op removal")
	}
}

func TestRemoveMember_TwiceIsIdempotent(t *testing.T) {
	r := New(Options{KeepEmptyRooms: true})
	r.AddMember("room", "c1", "Alice", nil)
	r.AddMember("room", "c2", "Bob", nil)

	calls := 0
	var stored string
	var remaining []domain.ConnID
	depart := func(name string, rest []domain.ConnID) {
		calls++
		stored, remaining = name, rest
	}

	if _, ok := r.RemoveMember("room", "c1", depart); !ok {
		t.Fatalf("first removal not ok")
	}
	if _, ok := r.RemoveMember("room", "c1", depart); ok {
		t.Fatalf("second removal reported ok")
	}
	if calls != 1 {
		t.Errorf("departure calls = %d, want 1", calls)
	}
	if stored != "Alice" {
		t.Errorf("stored name = %q, want Alice", stored)
	}
	if got := ids(remaining); len(got) != 1 || got[0] != "c2" {
		t.Errorf("remaining = %v, want [c2]", got)
	}
}

func TestReapEmptyRooms(t *testing.T) {
	r := New(Options{})
	r.AddMember("room", "c1", "Alice", nil)
	r.RemoveMember("room", "c1", nil)

	if r.Has("room") {
		t.Fatalf("empty room still registered")
	}
	if got := len(r.Rooms()); got != 0 {
		t.Errorf("len(Rooms) = %d, want 0", got)
	}
}

func TestKeepEmptyRooms(t *testing.T) {
	r := New(Options{KeepEmptyRooms: true})
	r.AddMember("room", "c1", "Alice", nil)
	r.RemoveMember("room", "c1", nil)

	if !r.Has("room") {
		t.Fatalf("room dropped with KeepEmptyRooms")
	}
	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].Members != 0 {
		t.Errorf("Rooms = %+v, want one empty room", rooms)
	}
}

func TestAddMember_AfterReapUsesFreshRoom(t *testing.T) {
	r := New(Options{})
	stale := r.EnsureRoom("room")
	r.AddMember("room", "c1", "Alice", nil)
	r.RemoveMember("room", "c1", nil)

	r.AddMember("room", "c2", "Bob", nil)

	if fresh := r.EnsureRoom("room"); fresh == stale {
		t.Fatalf("reaped handle was reused")
	}
	if m := r.Members("room"); m["c2"] != "Bob" || len(m) != 1 {
		t.Errorf("members = %v, want only c2", m)
	}
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := New(Options{})
	r.AddMember("room", "c1", "Alice", nil)
	r.AddMember("room", "c2", "Bob", nil)
	r.AddMember("room", "c3", "Carol", nil)

	var got []domain.ConnID
	if !r.Broadcast("room", "c1", func(a []domain.ConnID) { got = a }) {
		t.Fatalf("Broadcast on known room returned false")
	}
	if s := ids(got); len(s) != 2 || s[0] != "c2" || s[1] != "c3" {
		t.Errorf("audience = %v, want [c2 c3]", s)
	}

	if r.Broadcast("other", "", func([]domain.ConnID) { t.Errorf("deliver called for unknown room") }) {
		t.Errorf("Broadcast on unknown room returned true")
	}
}

func TestMembers_UnknownRoomEmpty(t *testing.T) {
	r := New(Options{})
	if m := r.Members("nope"); m == nil || len(m) != 0 {
		t.Errorf("Members(unknown) = %v, want empty map", m)
	}
}

func TestConcurrentJoinLeave_NoLostUpdates(t *testing.T) {
	r := New(Options{})

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ConnID(fmt.Sprintf("c%d", i))
			r.AddMember("room", id, "user", nil)
			if i%2 == 0 {
				r.RemoveMember("room", id, nil)
			}
		}(i)
	}
	wg.Wait()

	m := r.Members("room")
	if len(m) != n/2 {
		t.Fatalf("len(members) = %d, want %d", len(m), n/2)
	}
	for i := 1; i < n; i += 2 {
		if _, ok := m[domain.ConnID(fmt.Sprintf("c%d", i))]; !ok {
			t.Errorf("c%d missing", i)
		}
	}
}

func TestStats(t *testing.T) {
	r := New(Options{})
	r.AddMember("a", "c1", "Alice", nil)
	r.AddMember("a", "c2", "Bob", nil)
	r.AddMember("b", "c3", "Carol", nil)

	rooms, members := r.Stats()
	if rooms != 2 || members != 3 {
		t.Errorf("Stats = %d,%d want 2,3", rooms, members)
	}
}
