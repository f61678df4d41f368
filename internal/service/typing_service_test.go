package service

import (
	"context"
	"testing"
	"time"
)

func newTypingFixture(autoStop time.Duration) (*typingServiceImpl, *fakeTypingRepo, *fakeBroadcaster, *fakeFactPublisher) {
	repo := newFakeTypingRepo()
	bus := newFakeBroadcaster()
	facts := &fakeFactPublisher{}
	svc := NewTypingService(repo, bus, facts).(*typingServiceImpl)
	svc.autoStop = autoStop
	return svc, repo, bus, facts
}

func TestStartTypingEmitsOnce(t *testing.T) {
	svc, _, bus, _ := newTypingFixture(time.Minute)
	defer svc.Close()
	ctx := context.Background()

	svc.StartTyping(ctx, 2, 1)
	svc.StartTyping(ctx, 2, 1)
	svc.StartTyping(ctx, 2, 1)

	// 持续输入只广播一次开始事件
	if got := bus.convEventsOf(1, "typing"); len(got) != 1 {
		t.Errorf("typing events = %d, want 1", len(got))
	}

	users := svc.TypingUsersIn(ctx, 1)
	if len(users) != 1 || users[0] != 2 {
		t.Errorf("typing users = %v, want [2]", users)
	}
}

func TestStopTypingEmitsStop(t *testing.T) {
	svc, _, bus, _ := newTypingFixture(time.Minute)
	defer svc.Close()
	ctx := context.Background()

	svc.StartTyping(ctx, 2, 1)
	svc.StopTyping(ctx, 2, 1)

	if got := bus.convEventsOf(1, "typing-stop"); len(got) != 1 {
		t.Errorf("stop events = %d, want 1", len(got))
	}
	if users := svc.TypingUsersIn(ctx, 1); len(users) != 0 {
		t.Errorf("typing users = %v, want empty", users)
	}

	// 没有进行中的输入时 stop 是空操作
	svc.StopTyping(ctx, 2, 1)
	if got := bus.convEventsOf(1, "typing-stop"); len(got) != 1 {
		t.Errorf("stop events after noop = %d, want 1", len(got))
	}
}

func TestTypingAutoStops(t *testing.T) {
	svc, _, bus, _ := newTypingFixture(20 * time.Millisecond)
	defer svc.Close()
	ctx := context.Background()

	svc.StartTyping(ctx, 2, 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := bus.convEventsOf(1, "typing-stop"); len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auto stop never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if users := svc.TypingUsersIn(ctx, 1); len(users) != 0 {
		t.Errorf("typing users after auto stop = %v, want empty", users)
	}
}

func TestClearUserStopsEverywhere(t *testing.T) {
	svc, _, bus, _ := newTypingFixture(time.Minute)
	defer svc.Close()
	ctx := context.Background()

	svc.StartTyping(ctx, 2, 1)
	svc.StartTyping(ctx, 2, 7)

	svc.ClearUser(ctx, 2)

	if got := bus.convEventsOf(1, "typing-stop"); len(got) != 1 {
		t.Errorf("stop events conv 1 = %d, want 1", len(got))
	}
	if got := bus.convEventsOf(7, "typing-stop"); len(got) != 1 {
		t.Errorf("stop events conv 7 = %d, want 1", len(got))
	}
	if users := svc.TypingUsersIn(ctx, 1); len(users) != 0 {
		t.Errorf("typing users = %v, want empty", users)
	}
}
