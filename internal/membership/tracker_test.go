package membership

import "testing"

func TestEnterMovesUserBetweenRooms(t *testing.T) {
	tr := NewTracker()

	if prev := tr.Enter(Member{UserID: "u1", ConnID: "c1"}, "a"); prev != "" {
		t.Fatalf("first join should have no previous room, got %q", prev)
	}
	if prev := tr.Enter(Member{UserID: "u1", ConnID: "c1"}, "b"); prev != "a" {
		t.Fatalf("expected previous room a, got %q", prev)
	}

	if tr.IsIn("u1", "a") {
		t.Fatal("user must have vacated room a")
	}
	if !tr.IsIn("u1", "b") {
		t.Fatal("user should be in room b")
	}
	if len(tr.Members("a")) != 0 || len(tr.Members("b")) != 1 {
		t.Fatalf("unexpected rosters a=%v b=%v", tr.Members("a"), tr.Members("b"))
	}
}

func TestEnterSameRoomIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Enter(Member{UserID: "u1", ConnID: "c1"}, "a")
	tr.Enter(Member{UserID: "u2", ConnID: "c2"}, "a")

	if prev := tr.Enter(Member{UserID: "u1", ConnID: "c3"}, "a"); prev != "" {
		t.Fatalf("rejoin should report no previous room, got %q", prev)
	}
	members := tr.Members("a")
	if len(members) != 2 || members[0].UserID != "u1" || members[0].ConnID != "c3" {
		t.Fatalf("rejoin should keep order and rebind conn, got %+v", members)
	}
}

func TestMembersKeepJoinOrder(t *testing.T) {
	tr := NewTracker()
	for _, id := range []string{"u3", "u1", "u2"} {
		tr.Enter(Member{UserID: id, ConnID: "c-" + id}, "room")
	}
	tr.Leave("u1", "room")
	tr.Enter(Member{UserID: "u1", ConnID: "c-u1"}, "room")

	var got []string
	for _, m := range tr.Members("room") {
		got = append(got, m.UserID)
	}
	want := []string{"u3", "u2", "u1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestLeaveOtherRoomIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Enter(Member{UserID: "u1", ConnID: "c1"}, "a")

	if tr.Leave("u1", "b") {
		t.Fatal("leaving a room the user is not in must be a no-op")
	}
	if !tr.IsIn("u1", "a") {
		t.Fatal("membership in a must be untouched")
	}
}

func TestReleaseRequiresOwningConnection(t *testing.T) {
	tr := NewTracker()
	tr.Enter(Member{UserID: "u1", ConnID: "old"}, "a")
	tr.Enter(Member{UserID: "u1", ConnID: "new"}, "a")

	if _, ok := tr.Release("u1", "old"); ok {
		t.Fatal("stale connection must not release the membership")
	}
	room, ok := tr.Release("u1", "new")
	if !ok || room != "a" {
		t.Fatalf("expected release of room a, got %q %v", room, ok)
	}
	if tr.Count() != 0 {
		t.Fatal("tracker should be empty")
	}
}

func TestLookupReportsBoundConnection(t *testing.T) {
	tr := NewTracker()
	if _, _, ok := tr.Lookup("u1"); ok {
		t.Fatal("unknown user should not be found")
	}

	tr.Enter(Member{UserID: "u1", Name: "kim", ConnID: "c1"}, "a")
	tr.Enter(Member{UserID: "u1", Name: "kim", ConnID: "c2"}, "a")

	m, room, ok := tr.Lookup("u1")
	if !ok || room != "a" || m.ConnID != "c2" || m.Name != "kim" {
		t.Fatalf("Lookup = %+v %q %v", m, room, ok)
	}

	tr.Leave("u1", "a")
	if _, _, ok := tr.Lookup("u1"); ok {
		t.Fatal("user should be gone after leaving")
	}
}
