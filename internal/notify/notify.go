package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomleader/internal/events"
)

// LeaderConfirmedChannel is where the push-notification service listens.
const LeaderConfirmedChannel = "notifications:leader-confirmed"

// Forwarder relays bus events to Redis for services outside this process.
type Forwarder struct {
	rdb redis.UniversalClient
	bus *events.Bus
}

func NewForwarder(rdb redis.UniversalClient, bus *events.Bus) *Forwarder {
	return &Forwarder{rdb: rdb, bus: bus}
}

// Run forwards events until ctx is done or the bus is closed. Delivery is
// best effort: failures are logged and the event is dropped.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.bus.LeaderConfirmations:
			if !ok {
				return
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.LeaderConfirmed) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "notify").Str("room", ev.RoomID).Msg("marshal leader confirmation")
		return
	}
	if err := f.rdb.Publish(ctx, LeaderConfirmedChannel, data).Err(); err != nil {
		log.Warn().Err(err).Str("module", "notify").Str("room", ev.RoomID).Msg("publish leader confirmation")
		return
	}
	log.Debug().Str("module", "notify").Str("room", ev.RoomID).Str("leader", ev.LeaderID).Msg("leader confirmation forwarded")
}
