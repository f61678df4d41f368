package gateway

import "testing"

func TestClientAuthenticateOnce(t *testing.T) {
	c := newClient(nil, nil)
	if c.State() != StateUnauthenticated {
		t.Fatalf("initial state = %v, want unauthenticated", c.State())
	}

	if !c.authenticate(42, "alice", "Alice") {
		t.Fatal("first authenticate failed")
	}
	if c.State() != StateAuthenticated || c.UserID() != 42 {
		t.Errorf("state = %v userID = %d, want authenticated/42", c.State(), c.UserID())
	}

	// 重复认证被拒绝
	if c.authenticate(7, "bob", "Bob") {
		t.Error("second authenticate accepted")
	}
	if c.UserID() != 42 {
		t.Errorf("userID overwritten to %d", c.UserID())
	}
}

func TestClientRoomTracking(t *testing.T) {
	c := newClient(nil, nil)

	if !c.joinRoom(1) {
		t.Error("first join reported as duplicate")
	}
	if c.joinRoom(1) {
		t.Error("duplicate join reported as new")
	}
	c.joinRoom(2)

	rooms := c.roomList()
	if len(rooms) != 2 {
		t.Errorf("rooms = %v, want 2 entries", rooms)
	}

	if !c.leaveRoom(1) {
		t.Error("leave of joined room failed")
	}
	if c.leaveRoom(1) {
		t.Error("leave of absent room succeeded")
	}
}
