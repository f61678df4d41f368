package service

import (
	"context"
	"testing"
)

func newPresenceFixture() (PresenceService, *fakeSessionRepo, *fakePresenceRepo, *fakeConvRepo, *fakeBroadcaster) {
	session := newFakeSessionRepo()
	presence := newFakePresenceRepo()
	conv := newFakeConvRepo()
	bus := newFakeBroadcaster()
	svc := NewPresenceService(session, presence, conv, bus, &fakeFactPublisher{})
	return svc, session, presence, conv, bus
}

func TestPresenceMultiDevice(t *testing.T) {
	svc, _, _, conv, bus := newPresenceFixture()
	conv.members[1] = []uint64{2, 3}
	ctx := context.Background()

	svc.HandleConnect(ctx, 2, "conn-a")
	if got := svc.PresenceOf(ctx, 2); got.Status != PresenceOnline {
		t.Errorf("status = %q, want online", got.Status)
	}
	if got := bus.convEventsOf(1, "presence"); len(got) != 1 {
		t.Errorf("presence events = %d, want 1", len(got))
	}

	// 第二台设备上线不重复广播
	svc.HandleConnect(ctx, 2, "conn-b")
	if got := bus.convEventsOf(1, "presence"); len(got) != 1 {
		t.Errorf("presence events after 2nd device = %d, want 1", len(got))
	}

	// 断开一台仍在线
	svc.HandleDisconnect(ctx, 2, "conn-a")
	if got := svc.PresenceOf(ctx, 2); got.Status != PresenceOnline {
		t.Errorf("status after partial disconnect = %q, want online", got.Status)
	}
	if got := bus.convEventsOf(1, "presence"); len(got) != 1 {
		t.Errorf("presence events after partial disconnect = %d, want 1", len(got))
	}

	// 最后一台断开落为 offline 并广播
	svc.HandleDisconnect(ctx, 2, "conn-b")
	got := svc.PresenceOf(ctx, 2)
	if got.Status != PresenceOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}
	if got.LastSeenAt.IsZero() {
		t.Error("last seen not recorded on final disconnect")
	}
	if events := bus.convEventsOf(1, "presence"); len(events) != 2 {
		t.Errorf("presence events = %d, want 2", len(events))
	}
}

func TestUpdateStatusRequiresConnection(t *testing.T) {
	svc, _, _, conv, bus := newPresenceFixture()
	conv.members[1] = []uint64{2, 3}
	ctx := context.Background()

	// 无连接时切换被忽略
	svc.UpdateStatus(ctx, 2, PresenceAway)
	if got := svc.PresenceOf(ctx, 2); got.Status != PresenceOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}

	svc.HandleConnect(ctx, 2, "conn-a")
	svc.UpdateStatus(ctx, 2, PresenceAway)
	if got := svc.PresenceOf(ctx, 2); got.Status != PresenceAway {
		t.Errorf("status = %q, want away", got.Status)
	}
	if events := bus.convEventsOf(1, "presence"); len(events) != 2 {
		t.Errorf("presence events = %d, want 2 (online + away)", len(events))
	}

	// 非法状态被忽略
	svc.UpdateStatus(ctx, 2, "offline")
	if got := svc.PresenceOf(ctx, 2); got.Status != PresenceAway {
		t.Errorf("status after invalid update = %q, want away", got.Status)
	}
}

func TestPresenceOfUnknownUserIsOffline(t *testing.T) {
	svc, _, _, _, _ := newPresenceFixture()

	got := svc.PresenceOf(context.Background(), 99)
	if got.Status != PresenceOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}
}
