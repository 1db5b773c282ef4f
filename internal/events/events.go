package events

import (
	"time"

	"github.com/rs/zerolog/log"
)

// LeaderConfirmed is emitted once a room's leader has been durably committed.
type LeaderConfirmed struct {
	RoomID      string    `json:"roomId"`
	LeaderID    string    `json:"leaderId"`
	ScheduleID  string    `json:"scheduleId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type Bus struct {
	LeaderConfirmations chan LeaderConfirmed
}

func NewBus() *Bus {
	return &Bus{
		LeaderConfirmations: make(chan LeaderConfirmed, 64),
	}
}

// PublishLeaderConfirmed never blocks. When the buffer is full the event is
// dropped and logged.
func (b *Bus) PublishLeaderConfirmed(ev LeaderConfirmed) bool {
	select {
	case b.LeaderConfirmations <- ev:
		return true
	default:
		log.Warn().Str("module", "events").Str("room", ev.RoomID).Str("leader", ev.LeaderID).
			Msg("leader confirmation dropped, bus full")
		return false
	}
}

// Close stops consumers ranging over the bus.
func (b *Bus) Close() {
	close(b.LeaderConfirmations)
}
