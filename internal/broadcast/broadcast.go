package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Outbound message types.
const (
	TypePhaseChange    = "PHASE_CHANGE"
	TypeUserJoined     = "USER_JOINED"
	TypeUserLeft       = "USER_LEFT"
	TypeVoteUpdated    = "VOTE_UPDATED"
	TypeGameResult     = "GAME_RESULT"
	TypeError          = "ERROR"
	TypeState          = "STATE"
	TypeTimingRecorded = "TIMING_RECORDED"
	TypeTimingProgress = "TIMING_PROGRESS"
	TypeSessionClosed  = "SESSION_CLOSED"
)

// Message is the envelope every client receives.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func RoomTopic(roomID string) string {
	return "election:topic:room:" + roomID
}

func UserTopic(roomID, userID string) string {
	return "election:topic:user:" + roomID + ":" + userID
}

// Broadcaster publishes to room and user topics. Delivery is at most once:
// publish failures are logged and never returned, clients resync by reload.
type Broadcaster struct {
	rdb redis.UniversalClient
}

func NewBroadcaster(rdb redis.UniversalClient) *Broadcaster {
	return &Broadcaster{rdb: rdb}
}

func (b *Broadcaster) ToRoom(ctx context.Context, roomID string, msg Message) {
	b.publish(ctx, roomID, msg, RoomTopic(roomID))
}

func (b *Broadcaster) ToUser(ctx context.Context, roomID, userID string, msg Message) {
	b.publish(ctx, roomID, msg, UserTopic(roomID, userID))
}

// ToUsers sends the same message to several user topics in one round trip.
func (b *Broadcaster) ToUsers(ctx context.Context, roomID string, userIDs []string, msg Message) {
	if len(userIDs) == 0 {
		return
	}
	topics := make([]string, len(userIDs))
	for i, id := range userIDs {
		topics[i] = UserTopic(roomID, id)
	}
	b.publish(ctx, roomID, msg, topics...)
}

func (b *Broadcaster) publish(ctx context.Context, roomID string, msg Message, topics ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast").Str("type", msg.Type).Msg("marshal message")
		return
	}
	_, err = b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, topic := range topics {
			p.Publish(ctx, topic, data)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "broadcast").Str("room", roomID).Str("type", msg.Type).Msg("publish failed")
	}
}

// Subscribe attaches to the room topic and the user's own topic.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID, userID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, RoomTopic(roomID), UserTopic(roomID, userID))
}
