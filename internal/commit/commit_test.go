package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomleader/internal/db"
	"roomleader/internal/events"
)

type fakeStore struct {
	calls []string
	err   error
}

func (f *fakeStore) PromoteLeader(_ context.Context, roomID, userID string) (string, error) {
	f.calls = append(f.calls, roomID+"/"+userID)
	if f.err != nil {
		return "", f.err
	}
	return "sched-1", nil
}

func TestCommitLeader(t *testing.T) {
	store := &fakeStore{}
	bus := events.NewBus()
	c := New(store, bus)
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	ev, err := c.CommitLeader(context.Background(), "r1", "u2")
	if err != nil {
		t.Fatalf("CommitLeader() error: %v", err)
	}
	if ev.ScheduleID != "sched-1" || ev.LeaderID != "u2" {
		t.Errorf("event = %+v", ev)
	}
	if len(store.calls) != 1 || store.calls[0] != "r1/u2" {
		t.Errorf("store calls = %v", store.calls)
	}

	select {
	case got := <-bus.LeaderConfirmations:
		if got != ev {
			t.Errorf("bus event = %+v, want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event on bus")
	}
}

func TestCommitLeader_FailureEmitsNothing(t *testing.T) {
	store := &fakeStore{err: db.ErrStageConflict}
	bus := events.NewBus()
	c := New(store, bus)

	_, err := c.CommitLeader(context.Background(), "r1", "u2")
	if !errors.Is(err, db.ErrStageConflict) {
		t.Fatalf("CommitLeader() error = %v, want ErrStageConflict", err)
	}
	if n := len(bus.LeaderConfirmations); n != 0 {
		t.Errorf("bus holds %d events after a failed commit", n)
	}
}
