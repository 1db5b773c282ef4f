package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"roomleader/internal/tiebreak"
)

const (
	fieldPhase          = "phase"
	fieldPhaseStartedAt = "phase_started_at"
	fieldParticipants   = "participants"
	fieldSelectedGame   = "selected_game"
	fieldWinnerID       = "winner_id"
)

// casPhase moves the phase only when it still reads as ARGV[1]. A missing
// hash or field reads as PENDING.
var casPhase = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'phase')
if cur == false then cur = 'PENDING' end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'phase', ARGV[2], 'phase_started_at', ARGV[3])
return 1
`)

// Store keeps one election session per room in Redis. Each field lives under
// its own key or hash field so that no operation needs a cross-field
// transaction. Every write refreshes the TTL of all the room's keys.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// The braces make every key of a room hash to the same cluster slot.
func hashKey(roomID string) string        { return "election:{" + roomID + "}" }
func volunteersKey(roomID string) string  { return hashKey(roomID) + ":volunteers" }
func votedKey(roomID string) string       { return hashKey(roomID) + ":voted" }
func connectionsKey(roomID string) string { return hashKey(roomID) + ":connections" }
func timingKey(roomID string) string      { return hashKey(roomID) + ":timing" }

func allKeys(roomID string) []string {
	return []string{
		hashKey(roomID),
		volunteersKey(roomID),
		votedKey(roomID),
		connectionsKey(roomID),
		timingKey(roomID),
	}
}

// write runs fn and the TTL refresh in one pipeline.
func (s *Store) write(ctx context.Context, roomID string, fn func(p redis.Pipeliner)) error {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		fn(p)
		for _, k := range allKeys(roomID) {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	return err
}

// Touch refreshes the TTL of every key of the room.
func (s *Store) Touch(ctx context.Context, roomID string) error {
	if err := s.write(ctx, roomID, func(redis.Pipeliner) {}); err != nil {
		return fmt.Errorf("refreshing session ttl: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, allKeys(roomID)...).Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, allKeys(roomID)...).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// --- phase ---

func (s *Store) Phase(ctx context.Context, roomID string) (Phase, error) {
	v, err := s.rdb.HGet(ctx, hashKey(roomID), fieldPhase).Result()
	if errors.Is(err, redis.Nil) {
		return PhasePending, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading phase: %w", err)
	}
	return Phase(v), nil
}

// ErrInvalidTransition rejects a phase move that is not a forward edge.
var ErrInvalidTransition = errors.New("invalid phase transition")

// CompareAndSetPhase moves the phase from -> to and resets the phase start
// time. It reports false, without error, when the phase was no longer from.
func (s *Store) CompareAndSetPhase(ctx context.Context, roomID string, from, to Phase, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	n, err := casPhase.Run(ctx, s.rdb, []string{hashKey(roomID)}, string(from), string(to), at.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("compare and set phase: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := s.Touch(ctx, roomID); err != nil {
		return true, err
	}
	return true, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing phase start %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}

// --- participants ---

func decodeParticipants(v string) ([]Participant, error) {
	if v == "" {
		return nil, nil
	}
	var out []Participant
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	return out, nil
}

func (s *Store) SetParticipants(ctx context.Context, roomID string, participants []Participant) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	err = s.write(ctx, roomID, func(p redis.Pipeliner) {
		p.HSet(ctx, hashKey(roomID), fieldParticipants, data)
	})
	if err != nil {
		return fmt.Errorf("setting participants: %w", err)
	}
	return nil
}

// --- votes ---

func (s *Store) AddVolunteers(ctx context.Context, roomID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]any, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		p.SAdd(ctx, volunteersKey(roomID), members...)
	})
	if err != nil {
		return fmt.Errorf("adding volunteers: %w", err)
	}
	return nil
}

func (s *Store) AddVolunteer(ctx context.Context, roomID, userID string) error {
	return s.AddVolunteers(ctx, roomID, userID)
}

// AddVoted records an explicit decision and reports whether it was the
// user's first one.
func (s *Store) AddVoted(ctx context.Context, roomID, userID string) (bool, error) {
	var cmd *redis.IntCmd
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		cmd = p.SAdd(ctx, votedKey(roomID), userID)
	})
	if err != nil {
		return false, fmt.Errorf("recording vote: %w", err)
	}
	return cmd.Val() == 1, nil
}

// ClearVotes drops everything a previous round may have left behind.
func (s *Store) ClearVotes(ctx context.Context, roomID string) error {
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		p.Del(ctx, volunteersKey(roomID), votedKey(roomID), timingKey(roomID))
		p.HDel(ctx, hashKey(roomID), fieldSelectedGame, fieldWinnerID)
	})
	if err != nil {
		return fmt.Errorf("clearing votes: %w", err)
	}
	return nil
}

// --- game ---

func (s *Store) SetSelectedGameIfAbsent(ctx context.Context, roomID string, game tiebreak.GameType) (bool, error) {
	var cmd *redis.BoolCmd
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		cmd = p.HSetNX(ctx, hashKey(roomID), fieldSelectedGame, string(game))
	})
	if err != nil {
		return false, fmt.Errorf("selecting game: %w", err)
	}
	return cmd.Val(), nil
}

// AddTimingRecordIfAbsent stores the deviation unless the user already has
// one, in which case the first score is kept and false is returned.
func (s *Store) AddTimingRecordIfAbsent(ctx context.Context, roomID, userID string, deviation float64) (bool, error) {
	var cmd *redis.IntCmd
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		cmd = p.ZAddNX(ctx, timingKey(roomID), redis.Z{Score: deviation, Member: userID})
	})
	if err != nil {
		return false, fmt.Errorf("recording timing result: %w", err)
	}
	return cmd.Val() == 1, nil
}

func (s *Store) TimingCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.ZCard(ctx, timingKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting timing results: %w", err)
	}
	return int(n), nil
}

// TimingRecords returns every record ordered by ascending deviation.
func (s *Store) TimingRecords(ctx context.Context, roomID string) ([]TimingRecord, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, timingKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading timing results: %w", err)
	}
	return toRecords(zs), nil
}

// ExtremeTimingRecord returns a record with the largest deviation. Among
// equal deviations the member picked is unspecified.
func (s *Store) ExtremeTimingRecord(ctx context.Context, roomID string) (TimingRecord, bool, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, timingKey(roomID), 0, 0).Result()
	if err != nil {
		return TimingRecord{}, false, fmt.Errorf("reading top timing result: %w", err)
	}
	if len(zs) == 0 {
		return TimingRecord{}, false, nil
	}
	return toRecords(zs)[0], true, nil
}

func toRecords(zs []redis.Z) []TimingRecord {
	out := make([]TimingRecord, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, TimingRecord{UserID: id, Deviation: z.Score})
	}
	return out
}

// --- winner ---

// SetWinnerIfAbsent records the winner once. Later calls report false and
// leave the first winner in place.
func (s *Store) SetWinnerIfAbsent(ctx context.Context, roomID, userID string) (bool, error) {
	var cmd *redis.BoolCmd
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		cmd = p.HSetNX(ctx, hashKey(roomID), fieldWinnerID, userID)
	})
	if err != nil {
		return false, fmt.Errorf("setting winner: %w", err)
	}
	return cmd.Val(), nil
}

// --- connections ---

func (s *Store) AddConnection(ctx context.Context, roomID, userID string) error {
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		p.SAdd(ctx, connectionsKey(roomID), userID)
	})
	if err != nil {
		return fmt.Errorf("adding connection: %w", err)
	}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, roomID, userID string) error {
	err := s.write(ctx, roomID, func(p redis.Pipeliner) {
		p.SRem(ctx, connectionsKey(roomID), userID)
	})
	if err != nil {
		return fmt.Errorf("removing connection: %w", err)
	}
	return nil
}

func (s *Store) Connections(ctx context.Context, roomID string) ([]string, error) {
	v, err := s.rdb.SMembers(ctx, connectionsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading connections: %w", err)
	}
	return v, nil
}

func (s *Store) ConnectionCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.SCard(ctx, connectionsKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting connections: %w", err)
	}
	return int(n), nil
}

// --- snapshot ---

// Load reads the whole session in one pipeline. Fields written concurrently
// may be observed at slightly different points in time.
func (s *Store) Load(ctx context.Context, roomID string) (State, error) {
	var (
		hash  *redis.MapStringStringCmd
		vols  *redis.StringSliceCmd
		voted *redis.StringSliceCmd
		conns *redis.StringSliceCmd
		timed *redis.ZSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		hash = p.HGetAll(ctx, hashKey(roomID))
		vols = p.SMembers(ctx, volunteersKey(roomID))
		voted = p.SMembers(ctx, votedKey(roomID))
		conns = p.SMembers(ctx, connectionsKey(roomID))
		timed = p.ZRangeWithScores(ctx, timingKey(roomID), 0, -1)
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("loading session: %w", err)
	}

	h := hash.Val()
	st := State{
		RoomID:       roomID,
		Exists:       len(h) > 0 || len(conns.Val()) > 0,
		Phase:        PhasePending,
		Volunteers:   vols.Val(),
		Voted:        voted.Val(),
		Connections:  conns.Val(),
		Timing:       toRecords(timed.Val()),
		SelectedGame: tiebreak.GameType(h[fieldSelectedGame]),
		WinnerID:     h[fieldWinnerID],
	}
	if v := h[fieldPhase]; v != "" {
		st.Phase = Phase(v)
	}
	if st.PhaseStartedAt, err = parseMillis(h[fieldPhaseStartedAt]); err != nil {
		return State{}, err
	}
	if st.Participants, err = decodeParticipants(h[fieldParticipants]); err != nil {
		return State{}, err
	}
	return st, nil
}
