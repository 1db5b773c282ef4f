package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomleader/internal/db"
)

const defaultCacheTTL = 2 * time.Second

var ErrNotFound = errors.New("room not found")

// Source is the durable store the directory reads from.
type Source interface {
	GetRoom(ctx context.Context, id string) (*db.RoomRecord, error)
	ListMembers(ctx context.Context, roomID string) ([]db.MemberRecord, error)
}

// Directory answers membership and authority questions about rooms. Lookups
// are cached briefly because every websocket command needs one.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]*Room
	src   Source
	ttl   time.Duration
	now   func() time.Time
}

func NewDirectory(src Source, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Directory{
		rooms: make(map[string]*Room),
		src:   src,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Room returns the room with its members, from cache when fresh.
func (d *Directory) Room(ctx context.Context, roomID string) (*Room, error) {
	d.mu.Lock()
	r, ok := d.rooms[roomID]
	d.mu.Unlock()
	if ok && d.now().Sub(r.FetchedAt) < d.ttl {
		return r, nil
	}

	r, err := d.fetch(ctx, roomID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.rooms[roomID] = r
	d.mu.Unlock()
	return r, nil
}

func (d *Directory) fetch(ctx context.Context, roomID string) (*Room, error) {
	rec, err := d.src.GetRoom(ctx, roomID)
	if errors.Is(err, db.ErrRoomNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading room: %w", err)
	}
	members, err := d.src.ListMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}

	r := &Room{
		ID:        rec.ID,
		Stage:     rec.Stage,
		Members:   make([]Member, 0, len(members)),
		FetchedAt: d.now(),
	}
	for _, m := range members {
		r.Members = append(r.Members, Member{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarRef:   m.AvatarRef,
			Role:        m.Role,
		})
	}
	return r, nil
}

// Invalidate drops the cached copy so the next lookup reads the store.
func (d *Directory) Invalidate(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, roomID)
}

// Sweep evicts stale entries until ctx is done.
func (d *Directory) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evictStale()
		}
	}
}

func (d *Directory) evictStale() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, r := range d.rooms {
		if now.Sub(r.FetchedAt) >= d.ttl {
			delete(d.rooms, id)
		}
	}
}
