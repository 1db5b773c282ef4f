package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewBroadcaster(rdb), rdb
}

func receive(t *testing.T, ch <-chan *redis.Message) (string, Message) {
	t.Helper()
	select {
	case m := <-ch:
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", m.Payload, err)
		}
		return m.Channel, Message{Type: msg.Type, Payload: string(msg.Payload)}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return "", Message{}
}

func TestTopics(t *testing.T) {
	if got := RoomTopic("r1"); got != "election:topic:room:r1" {
		t.Errorf("RoomTopic() = %q", got)
	}
	if got := UserTopic("r1", "u1"); got != "election:topic:user:r1:u1" {
		t.Errorf("UserTopic() = %q", got)
	}
}

func TestBroadcaster_ToRoomAndUser(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, "r1", "u1")
	defer sub.Close()
	for range 2 {
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	ch := sub.Channel()

	b.ToRoom(ctx, "r1", Message{Type: TypePhaseChange, Payload: map[string]string{"phase": "VOLUNTEER"}})
	topic, msg := receive(t, ch)
	if topic != RoomTopic("r1") || msg.Type != TypePhaseChange {
		t.Errorf("got %s %+v", topic, msg)
	}
	if msg.Payload != `{"phase":"VOLUNTEER"}` {
		t.Errorf("payload = %v", msg.Payload)
	}

	b.ToUser(ctx, "r1", "u2", Message{Type: TypeError})
	b.ToUser(ctx, "r1", "u1", Message{Type: TypeTimingRecorded})
	topic, msg = receive(t, ch)
	if topic != UserTopic("r1", "u1") || msg.Type != TypeTimingRecorded {
		t.Errorf("got %s %+v, want only u1's own message", topic, msg)
	}
}

func TestBroadcaster_ToUsers(t *testing.T) {
	b, rdb := newTestBroadcaster(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, UserTopic("r1", "a"), UserTopic("r1", "b"), UserTopic("r1", "c"))
	defer sub.Close()
	for range 3 {
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	ch := sub.Channel()

	b.ToUsers(ctx, "r1", []string{"a", "c"}, Message{Type: TypeVoteUpdated})

	seen := map[string]bool{}
	for range 2 {
		topic, msg := receive(t, ch)
		if msg.Type != TypeVoteUpdated {
			t.Errorf("type = %q", msg.Type)
		}
		seen[topic] = true
	}
	if !seen[UserTopic("r1", "a")] || !seen[UserTopic("r1", "c")] {
		t.Errorf("delivered to %v, want a and c", seen)
	}
	select {
	case m := <-ch:
		t.Errorf("unexpected message on %s", m.Channel)
	case <-time.After(100 * time.Millisecond):
	}
}
