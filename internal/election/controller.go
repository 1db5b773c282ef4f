// Package election runs the leader election for a room: volunteering, the
// optional tie-break game and the final commit. All state lives in the
// session store. Nothing here holds a lock across a session; every step
// re-reads the phase before it acts and terminal steps are guarded by
// single-field compare-and-set.
package election

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"roomleader/internal/broadcast"
	"roomleader/internal/db"
	"roomleader/internal/events"
	"roomleader/internal/metrics"
	"roomleader/internal/random"
	"roomleader/internal/rooms"
	"roomleader/internal/scheduler"
	"roomleader/internal/session"
	"roomleader/internal/tiebreak"
)

const (
	DefaultVolunteerDuration = 60 * time.Second
	timerTimeout             = 10 * time.Second
)

type Directory interface {
	Room(ctx context.Context, roomID string) (*rooms.Room, error)
	Invalidate(roomID string)
}

type Publisher interface {
	ToRoom(ctx context.Context, roomID string, msg broadcast.Message)
	ToUser(ctx context.Context, roomID, userID string, msg broadcast.Message)
	ToUsers(ctx context.Context, roomID string, userIDs []string, msg broadcast.Message)
}

type Committer interface {
	CommitLeader(ctx context.Context, roomID, winnerID string) (events.LeaderConfirmed, error)
}

type Options struct {
	VolunteerDuration time.Duration
	Registry          tiebreak.Registry
	Rand              random.Source
	Now               func() time.Time
	Metrics           *metrics.Metrics
}

type Controller struct {
	store     *session.Store
	dir       Directory
	pub       Publisher
	committer Committer
	sched     scheduler.Scheduler

	volunteerDuration time.Duration
	registry          tiebreak.Registry
	rand              random.Source
	now               func() time.Time
	metrics           *metrics.Metrics
}

func NewController(store *session.Store, dir Directory, pub Publisher, committer Committer, sched scheduler.Scheduler, opts Options) *Controller {
	c := &Controller{
		store:             store,
		dir:               dir,
		pub:               pub,
		committer:         committer,
		sched:             sched,
		volunteerDuration: opts.VolunteerDuration,
		registry:          opts.Registry,
		rand:              opts.Rand,
		now:               opts.Now,
		metrics:           opts.Metrics,
	}
	if c.volunteerDuration <= 0 {
		c.volunteerDuration = DefaultVolunteerDuration
	}
	if c.registry == nil {
		c.registry = tiebreak.DefaultRegistry()
	}
	if c.rand == nil {
		c.rand = random.Crypto
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.metrics == nil {
		c.metrics = metrics.New(prometheus.NewRegistry())
	}
	return c
}

// --- lookups ---

func (c *Controller) room(ctx context.Context, roomID string) (*rooms.Room, error) {
	r, err := c.dir.Room(ctx, roomID)
	if errors.Is(err, rooms.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up room: %w", err)
	}
	return r, nil
}

func (c *Controller) member(ctx context.Context, roomID, userID string) (*rooms.Room, rooms.Member, error) {
	r, err := c.room(ctx, roomID)
	if err != nil {
		return nil, rooms.Member{}, err
	}
	m, ok := r.Member(userID)
	if !ok {
		return nil, rooms.Member{}, ErrNotMember
	}
	return r, m, nil
}

func (c *Controller) manager(ctx context.Context, roomID, userID string) (*rooms.Room, error) {
	r, m, err := c.member(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !m.CanManage() {
		return nil, ErrNotManager
	}
	if !r.Electing() {
		return nil, ErrNotElecting
	}
	return r, nil
}

func (c *Controller) transitioned(roomID string, to session.Phase) {
	c.metrics.PhaseTransitions.WithLabelValues(string(to)).Inc()
	log.Info().Str("module", "election").Str("room", roomID).Str("phase", string(to)).Msg("phase changed")
}

// --- presence ---

// Connect registers a live socket for the user and returns their view.
func (c *Controller) Connect(ctx context.Context, roomID, userID string) (View, error) {
	r, m, err := c.member(ctx, roomID, userID)
	if err != nil {
		return View{}, err
	}
	if err := c.store.AddConnection(ctx, roomID, userID); err != nil {
		return View{}, err
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type:    broadcast.TypeUserJoined,
		Payload: Presence{UserID: userID, DisplayName: m.DisplayName, AvatarRef: m.AvatarRef},
	})
	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return View{}, err
	}
	if st, err = c.endIfOverdue(ctx, st); err != nil {
		return View{}, err
	}
	log.Debug().Str("module", "election").Str("room", r.ID).Str("user", userID).Msg("connected")
	return c.buildView(st, userID, m.CanManage()), nil
}

// Leave handles a dropped socket. It never fails the caller.
func (c *Controller) Leave(ctx context.Context, roomID, userID string) {
	// A confirmed result may already have removed the session.
	ok, err := c.store.Exists(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "election").Str("room", roomID).Str("user", userID).Msg("leave cleanup failed")
		return
	}
	if !ok {
		return
	}
	if err := c.store.RemoveConnection(ctx, roomID, userID); err != nil {
		log.Warn().Err(err).Str("module", "election").Str("room", roomID).Str("user", userID).Msg("leave cleanup failed")
		return
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type:    broadcast.TypeUserLeft,
		Payload: Presence{UserID: userID, Reason: "disconnected"},
	})

	phase, err := c.store.Phase(ctx, roomID)
	if err != nil || phase != session.PhaseResult {
		return
	}
	c.closeIfEmpty(ctx, roomID)
}

// ConfirmResult removes the caller once they have seen the outcome. The
// last one out deletes the session.
func (c *Controller) ConfirmResult(ctx context.Context, roomID, userID string) error {
	if _, _, err := c.member(ctx, roomID, userID); err != nil {
		return err
	}
	phase, err := c.store.Phase(ctx, roomID)
	if err != nil {
		return err
	}
	if phase != session.PhaseResult {
		return wrongPhase(phase, session.PhaseResult)
	}

	if err := c.store.RemoveConnection(ctx, roomID, userID); err != nil {
		log.Warn().Err(err).Str("module", "election").Str("room", roomID).Str("user", userID).Msg("confirm cleanup failed")
		return nil
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type:    broadcast.TypeUserLeft,
		Payload: Presence{UserID: userID, Reason: "confirmed"},
	})
	c.closeIfEmpty(ctx, roomID)
	return nil
}

func (c *Controller) closeIfEmpty(ctx context.Context, roomID string) {
	n, err := c.store.ConnectionCount(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "election").Str("room", roomID).Msg("counting connections")
		return
	}
	if n > 0 {
		return
	}
	if err := c.store.Delete(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "election").Str("room", roomID).Msg("deleting session")
		return
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{Type: broadcast.TypeSessionClosed})
	log.Info().Str("module", "election").Str("room", roomID).Msg("session closed")
}

// --- volunteering ---

func (c *Controller) StartVolunteerPhase(ctx context.Context, roomID, userID string) error {
	r, err := c.manager(ctx, roomID, userID)
	if err != nil {
		return err
	}
	phase, err := c.store.Phase(ctx, roomID)
	if err != nil {
		return err
	}
	if phase != session.PhasePending {
		return wrongPhase(phase, session.PhasePending)
	}
	conns, err := c.store.Connections(ctx, roomID)
	if err != nil {
		return err
	}
	missing := 0
	for _, m := range r.Members {
		if !slices.Contains(conns, m.UserID) {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d of %d missing", ErrNotAllConnected, missing, len(r.Members))
	}

	at := c.now()
	ok, err := c.store.CompareAndSetPhase(ctx, roomID, session.PhasePending, session.PhaseVolunteer, at)
	if err != nil {
		return err
	}
	if !ok {
		phase, _ := c.store.Phase(ctx, roomID)
		return wrongPhase(phase, session.PhasePending)
	}
	// Armed before the roster writes so that a failed write still ends the
	// phase. Votes are rejected until the roster lands.
	c.sched.After(c.volunteerDuration, func() { c.volunteerTimerFired(roomID) })
	if err := c.store.ClearVotes(ctx, roomID); err != nil {
		return err
	}
	participants := r.Participants()
	if err := c.store.SetParticipants(ctx, roomID, participants); err != nil {
		return err
	}

	c.transitioned(roomID, session.PhaseVolunteer)
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type: broadcast.TypePhaseChange,
		Payload: PhaseChange{
			Phase:          session.PhaseVolunteer,
			PhaseStartedAt: at,
			DurationMs:     c.volunteerDuration.Milliseconds(),
			Participants:   participants,
		},
	})
	return nil
}

func (c *Controller) volunteerTimerFired(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	defer cancel()
	if err := c.endVolunteerPhase(ctx, roomID); err != nil {
		log.Error().Err(err).Str("module", "election").Str("room", roomID).Msg("volunteer timer")
	}
}

func (c *Controller) Volunteer(ctx context.Context, roomID, userID string) error {
	return c.vote(ctx, roomID, userID, true)
}

func (c *Controller) Pass(ctx context.Context, roomID, userID string) error {
	return c.vote(ctx, roomID, userID, false)
}

func (c *Controller) vote(ctx context.Context, roomID, userID string, volunteer bool) error {
	if _, _, err := c.member(ctx, roomID, userID); err != nil {
		return err
	}
	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if st, err = c.endIfOverdue(ctx, st); err != nil {
		return err
	}
	if st.Phase != session.PhaseVolunteer {
		return wrongPhase(st.Phase, session.PhaseVolunteer)
	}
	if !st.IsParticipant(userID) {
		return ErrNotParticipant
	}

	first, err := c.store.AddVoted(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !first {
		return ErrAlreadyVoted
	}
	if volunteer {
		if err := c.store.AddVolunteer(ctx, roomID, userID); err != nil {
			return err
		}
	}

	st, err = c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	c.pub.ToUsers(ctx, roomID, st.Voted, broadcast.Message{
		Type:    broadcast.TypeVoteUpdated,
		Payload: voteTally(st),
	})

	if len(st.Voted) >= len(st.Participants) {
		return c.endVolunteerPhase(ctx, roomID)
	}
	return nil
}

// endVolunteerPhase is reached from the timer and from the last vote. The
// phase guard and the compare-and-set make whichever runs second a no-op.
func (c *Controller) endVolunteerPhase(ctx context.Context, roomID string) error {
	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Phase != session.PhaseVolunteer {
		return nil
	}
	if len(st.Participants) == 0 {
		r, err := c.room(ctx, roomID)
		if err != nil {
			return err
		}
		st.Participants = r.Participants()
		if err := c.store.SetParticipants(ctx, roomID, st.Participants); err != nil {
			return err
		}
		log.Warn().Str("module", "election").Str("room", roomID).Msg("volunteer phase had no roster, restored from room")
	}

	volunteers := st.Volunteers
	if len(volunteers) == 0 {
		for _, p := range st.Participants {
			volunteers = append(volunteers, p.UserID)
		}
		if err := c.store.AddVolunteers(ctx, roomID, volunteers...); err != nil {
			return err
		}
		st.Volunteers = volunteers
		log.Info().Str("module", "election").Str("room", roomID).Int("participants", len(volunteers)).
			Msg("nobody volunteered, everyone is a candidate")
	}

	if len(volunteers) == 1 {
		ok, err := c.store.CompareAndSetPhase(ctx, roomID, session.PhaseVolunteer, session.PhaseResult, c.now())
		if err != nil || !ok {
			return err
		}
		c.transitioned(roomID, session.PhaseResult)
		return c.finish(ctx, roomID, st.Participants, volunteers[0], nil)
	}

	at := c.now()
	ok, err := c.store.CompareAndSetPhase(ctx, roomID, session.PhaseVolunteer, session.PhaseGameSelect, at)
	if err != nil || !ok {
		return err
	}
	c.transitioned(roomID, session.PhaseGameSelect)
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type: broadcast.TypePhaseChange,
		Payload: PhaseChange{
			Phase:          session.PhaseGameSelect,
			PhaseStartedAt: at,
			Candidates:     st.Candidates(),
			Games:          c.games(),
		},
	})
	return nil
}

// endIfOverdue ends a VOLUNTEER phase whose deadline passed without the
// timer firing, which happens when the instance that armed it went away.
func (c *Controller) endIfOverdue(ctx context.Context, st session.State) (session.State, error) {
	if st.Phase != session.PhaseVolunteer || st.PhaseStartedAt.IsZero() {
		return st, nil
	}
	if c.now().Before(st.PhaseStartedAt.Add(c.volunteerDuration)) {
		return st, nil
	}
	if err := c.endVolunteerPhase(ctx, st.RoomID); err != nil {
		return st, err
	}
	return c.store.Load(ctx, st.RoomID)
}

func (c *Controller) games() []tiebreak.GameType {
	out := make([]tiebreak.GameType, 0, len(c.registry))
	for t := range c.registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// --- tie-break ---

func (c *Controller) SelectGame(ctx context.Context, roomID, userID, gameType string) error {
	if _, err := c.manager(ctx, roomID, userID); err != nil {
		return err
	}
	gt, err := tiebreak.ParseGameType(gameType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	game, err := c.registry.Lookup(gt)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}

	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Phase != session.PhaseGameSelect {
		return wrongPhase(st.Phase, session.PhaseGameSelect)
	}
	candidates := st.Candidates()

	// Non-interactive games are played before the choice is stored so that
	// a failed play leaves the selection open.
	var result tiebreak.Result
	if !game.Interactive {
		if result, err = c.play(game, toCandidates(candidates, nil)); err != nil {
			return err
		}
	}
	ok, err := c.store.SetSelectedGameIfAbsent(ctx, roomID, gt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGameAlreadySelected
	}

	if game.Interactive {
		at := c.now()
		ok, err := c.store.CompareAndSetPhase(ctx, roomID, session.PhaseGameSelect, session.PhaseGameReady, at)
		if err != nil {
			return err
		}
		if !ok {
			phase, _ := c.store.Phase(ctx, roomID)
			return wrongPhase(phase, session.PhaseGameSelect)
		}
		c.transitioned(roomID, session.PhaseGameReady)
		c.pub.ToRoom(ctx, roomID, broadcast.Message{
			Type: broadcast.TypePhaseChange,
			Payload: PhaseChange{
				Phase:          session.PhaseGameReady,
				PhaseStartedAt: at,
				Candidates:     candidates,
				SelectedGame:   gt,
			},
		})
		return nil
	}

	ok, err = c.store.CompareAndSetPhase(ctx, roomID, session.PhaseGameSelect, session.PhaseResult, c.now())
	if err != nil {
		return err
	}
	if !ok {
		phase, _ := c.store.Phase(ctx, roomID)
		return wrongPhase(phase, session.PhaseGameSelect)
	}
	c.transitioned(roomID, session.PhaseResult)
	return c.finish(ctx, roomID, st.Participants, result.WinnerID, &result)
}

func (c *Controller) play(game tiebreak.Game, candidates []tiebreak.Candidate) (tiebreak.Result, error) {
	rng, err := c.rand()
	if err != nil {
		return tiebreak.Result{}, fmt.Errorf("seeding %s: %w", game.Type, err)
	}
	result, err := game.Play(candidates, rng)
	if err != nil {
		return tiebreak.Result{}, fmt.Errorf("playing %s: %w", game.Type, err)
	}
	c.metrics.GamesPlayed.WithLabelValues(string(game.Type)).Inc()
	return result, nil
}

func toCandidates(ps []session.Participant, scores map[string]float64) []tiebreak.Candidate {
	out := make([]tiebreak.Candidate, len(ps))
	for i, p := range ps {
		out[i] = tiebreak.Candidate{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			Score:       scores[p.UserID],
		}
	}
	return out
}

func (c *Controller) StartTimingRound(ctx context.Context, roomID, userID string) error {
	if _, err := c.manager(ctx, roomID, userID); err != nil {
		return err
	}
	at := c.now()
	ok, err := c.store.CompareAndSetPhase(ctx, roomID, session.PhaseGameReady, session.PhaseGamePlaying, at)
	if err != nil {
		return err
	}
	if !ok {
		phase, _ := c.store.Phase(ctx, roomID)
		return wrongPhase(phase, session.PhaseGameReady)
	}
	c.transitioned(roomID, session.PhaseGamePlaying)

	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type: broadcast.TypePhaseChange,
		Payload: PhaseChange{
			Phase:          session.PhaseGamePlaying,
			PhaseStartedAt: at,
			Candidates:     st.Candidates(),
			SelectedGame:   st.SelectedGame,
		},
	})
	return nil
}

func (c *Controller) SubmitTimingResult(ctx context.Context, roomID, userID string, deviation float64) error {
	if math.IsNaN(deviation) || math.IsInf(deviation, 0) || deviation < 0 {
		return ErrInvalidDeviation
	}
	if _, _, err := c.member(ctx, roomID, userID); err != nil {
		return err
	}
	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if st.Phase != session.PhaseGamePlaying {
		return wrongPhase(st.Phase, session.PhaseGamePlaying)
	}
	candidates := st.Candidates()
	if !slices.ContainsFunc(candidates, func(p session.Participant) bool { return p.UserID == userID }) {
		return ErrNotCandidate
	}

	ok, err := c.store.AddTimingRecordIfAbsent(ctx, roomID, userID, deviation)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateSubmission
	}
	c.pub.ToUser(ctx, roomID, userID, broadcast.Message{
		Type:    broadcast.TypeTimingRecorded,
		Payload: TimingRecorded{Deviation: deviation},
	})

	submitted, err := c.store.TimingCount(ctx, roomID)
	if err != nil {
		return err
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type:    broadcast.TypeTimingProgress,
		Payload: TimingProgress{Submitted: submitted, Total: len(candidates)},
	})
	if submitted < len(candidates) {
		return nil
	}

	result, err := c.resolveTiming(ctx, roomID, candidates)
	if err != nil {
		return err
	}
	ok, err = c.store.CompareAndSetPhase(ctx, roomID, session.PhaseGamePlaying, session.PhaseResult, c.now())
	if err != nil || !ok {
		return err
	}
	c.transitioned(roomID, session.PhaseResult)
	return c.finish(ctx, roomID, st.Participants, result.WinnerID, &result)
}

// resolveTiming picks the candidate holding the largest recorded deviation.
// Ties go to the earlier roster position.
func (c *Controller) resolveTiming(ctx context.Context, roomID string, candidates []session.Participant) (tiebreak.Result, error) {
	top, found, err := c.store.ExtremeTimingRecord(ctx, roomID)
	if err != nil {
		return tiebreak.Result{}, err
	}
	if !found {
		return tiebreak.Result{}, fmt.Errorf("timing round in room %s has no records", roomID)
	}
	records, err := c.store.TimingRecords(ctx, roomID)
	if err != nil {
		return tiebreak.Result{}, err
	}
	scores := make(map[string]float64, len(records))
	for _, r := range records {
		scores[r.UserID] = r.Deviation
	}
	idx := slices.IndexFunc(candidates, func(p session.Participant) bool {
		d, ok := scores[p.UserID]
		return ok && d == top.Deviation
	})
	if idx < 0 {
		return tiebreak.Result{}, fmt.Errorf("top timing record %s is not a candidate", top.UserID)
	}

	game, err := c.registry.Lookup(tiebreak.GameTiming)
	if err != nil {
		return tiebreak.Result{}, err
	}
	result, err := c.play(game, toCandidates(candidates, scores))
	if err != nil {
		return tiebreak.Result{}, err
	}
	result.WinnerID = candidates[idx].UserID
	result.WinnerName = candidates[idx].DisplayName
	return result, nil
}

// --- result ---

// finish runs after the caller moved the phase to RESULT, so at most one
// path per session gets here. The winner is stored only once the durable
// commit succeeded, so a reload never shows an uncommitted leader.
func (c *Controller) finish(ctx context.Context, roomID string, participants []session.Participant, winnerID string, result *tiebreak.Result) error {
	ev, err := c.committer.CommitLeader(ctx, roomID, winnerID)
	if err != nil {
		c.metrics.Commits.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("module", "election").Str("room", roomID).Str("winner", winnerID).Msg("commit failed")
		if errors.Is(err, db.ErrStageConflict) {
			return ErrNotElecting
		}
		c.pub.ToRoom(ctx, roomID, broadcast.Message{
			Type:    broadcast.TypeError,
			Payload: ErrorPayload{Kind: KindInternal, Message: "the result could not be saved"},
		})
		return err
	}
	c.metrics.Commits.WithLabelValues("ok").Inc()
	c.dir.Invalidate(roomID)
	if _, err := c.store.SetWinnerIfAbsent(ctx, roomID, winnerID); err != nil {
		log.Error().Err(err).Str("module", "election").Str("room", roomID).Str("winner", winnerID).Msg("storing committed winner")
	}

	winner := session.Participant{UserID: winnerID}
	for _, p := range participants {
		if p.UserID == winnerID {
			winner = p
			break
		}
	}
	payload := GameResult{Winner: winner, ScheduleID: ev.ScheduleID}
	if result != nil {
		payload.Game = result.Game
		payload.Visualization = result.Visualization
	}
	c.pub.ToRoom(ctx, roomID, broadcast.Message{
		Type:    broadcast.TypePhaseChange,
		Payload: PhaseChange{Phase: session.PhaseResult, PhaseStartedAt: c.now()},
	})
	c.pub.ToRoom(ctx, roomID, broadcast.Message{Type: broadcast.TypeGameResult, Payload: payload})
	return nil
}
