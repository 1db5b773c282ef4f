package election

import (
	"context"
	"time"

	"roomleader/internal/session"
	"roomleader/internal/tiebreak"
)

// View is everything one client needs to redraw the election screen. It is
// built from the session store alone, so any instance can serve it.
type View struct {
	RoomID         string                `json:"roomId"`
	Phase          session.Phase         `json:"phase"`
	PhaseStartedAt *time.Time            `json:"phaseStartedAt,omitempty"`
	RemainingMs    *int64                `json:"remainingMs,omitempty"`
	Participants   []session.Participant `json:"participants"`
	Connected      []string              `json:"connected"`
	CanManage      bool                  `json:"canManage"`
	HasVoted       bool                  `json:"hasVoted"`
	IsVolunteer    bool                  `json:"isVolunteer"`
	Votes          *VoteTally            `json:"votes,omitempty"`
	SelectedGame   tiebreak.GameType     `json:"selectedGame,omitempty"`
	Candidates     []session.Participant `json:"candidates,omitempty"`
	Timing         *TimingProgress       `json:"timing,omitempty"`
	Winner         *session.Participant  `json:"winner,omitempty"`
}

// VoteTally is only shown to users who already voted.
type VoteTally struct {
	VotedCount       int                   `json:"votedCount"`
	ParticipantCount int                   `json:"participantCount"`
	Volunteers       []session.Participant `json:"volunteers"`
}

type TimingProgress struct {
	Submitted    int      `json:"submitted"`
	Total        int      `json:"total"`
	OwnDeviation *float64 `json:"ownDeviation,omitempty"`
}

type PhaseChange struct {
	Phase          session.Phase         `json:"phase"`
	PhaseStartedAt time.Time             `json:"phaseStartedAt"`
	DurationMs     int64                 `json:"durationMs,omitempty"`
	Participants   []session.Participant `json:"participants,omitempty"`
	Candidates     []session.Participant `json:"candidates,omitempty"`
	Games          []tiebreak.GameType   `json:"games,omitempty"`
	SelectedGame   tiebreak.GameType     `json:"selectedGame,omitempty"`
}

type Presence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type GameResult struct {
	Game          tiebreak.GameType   `json:"game,omitempty"`
	Winner        session.Participant `json:"winner"`
	Visualization any                 `json:"visualization,omitempty"`
	ScheduleID    string              `json:"scheduleId"`
}

type TimingRecorded struct {
	Deviation float64 `json:"deviation"`
}

type ErrorPayload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

func voteTally(st session.State) VoteTally {
	vols := make([]session.Participant, 0, len(st.Volunteers))
	for _, p := range st.Participants {
		if st.IsVolunteer(p.UserID) {
			vols = append(vols, p)
		}
	}
	return VoteTally{
		VotedCount:       len(st.Voted),
		ParticipantCount: len(st.Participants),
		Volunteers:       vols,
	}
}

// Reload rebuilds the caller's view after a reconnect or on demand.
func (c *Controller) Reload(ctx context.Context, roomID, userID string) (View, error) {
	_, member, err := c.member(ctx, roomID, userID)
	if err != nil {
		return View{}, err
	}
	st, err := c.store.Load(ctx, roomID)
	if err != nil {
		return View{}, err
	}
	if st, err = c.endIfOverdue(ctx, st); err != nil {
		return View{}, err
	}
	return c.buildView(st, userID, member.CanManage()), nil
}

func (c *Controller) buildView(st session.State, userID string, canManage bool) View {
	v := View{
		RoomID:       st.RoomID,
		Phase:        st.Phase,
		Participants: st.Participants,
		Connected:    st.Connections,
		CanManage:    canManage,
		HasVoted:     st.HasVoted(userID),
		IsVolunteer:  st.IsVolunteer(userID),
		SelectedGame: st.SelectedGame,
	}
	if v.Participants == nil {
		v.Participants = []session.Participant{}
	}
	if v.Connected == nil {
		v.Connected = []string{}
	}
	if !st.PhaseStartedAt.IsZero() {
		started := st.PhaseStartedAt
		v.PhaseStartedAt = &started
	}
	if st.Phase.Timed() && !st.PhaseStartedAt.IsZero() {
		left := c.volunteerDuration - c.now().Sub(st.PhaseStartedAt)
		if left < 0 {
			left = 0
		}
		ms := left.Milliseconds()
		v.RemainingMs = &ms
	}
	if v.HasVoted {
		tally := voteTally(st)
		v.Votes = &tally
	}

	switch st.Phase {
	case session.PhaseGameSelect, session.PhaseGameReady, session.PhaseGamePlaying, session.PhaseResult:
		v.Candidates = st.Candidates()
	}
	if st.SelectedGame == tiebreak.GameTiming {
		tp := &TimingProgress{Submitted: len(st.Timing), Total: len(v.Candidates)}
		if rec, ok := st.TimingFor(userID); ok {
			d := rec.Deviation
			tp.OwnDeviation = &d
		}
		v.Timing = tp
	}
	if st.WinnerID != "" {
		w, ok := st.Participant(st.WinnerID)
		if !ok {
			w = session.Participant{UserID: st.WinnerID}
		}
		v.Winner = &w
	}
	return v
}
