package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"roomleader/internal/events"
)

// LeaderStore persists an election outcome in one transaction.
type LeaderStore interface {
	PromoteLeader(ctx context.Context, roomID, userID string) (scheduleID string, err error)
}

// Committer writes the elected leader and announces it. Callers guarantee
// it runs at most once per room; the store's stage check rejects repeats.
type Committer struct {
	store LeaderStore
	bus   *events.Bus
	now   func() time.Time
}

func New(store LeaderStore, bus *events.Bus) *Committer {
	return &Committer{store: store, bus: bus, now: time.Now}
}

func (c *Committer) CommitLeader(ctx context.Context, roomID, winnerID string) (events.LeaderConfirmed, error) {
	scheduleID, err := c.store.PromoteLeader(ctx, roomID, winnerID)
	if err != nil {
		return events.LeaderConfirmed{}, fmt.Errorf("committing leader for room %s: %w", roomID, err)
	}

	ev := events.LeaderConfirmed{
		RoomID:      roomID,
		LeaderID:    winnerID,
		ScheduleID:  scheduleID,
		ConfirmedAt: c.now().UTC(),
	}
	log.Info().Str("module", "commit").Str("room", roomID).Str("leader", winnerID).
		Str("schedule", scheduleID).Msg("leader committed")
	c.bus.PublishLeaderConfirmed(ev)
	return ev, nil
}
