package session

import (
	"slices"
	"time"

	"roomleader/internal/tiebreak"
)

type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

type TimingRecord struct {
	UserID    string  `json:"userId"`
	Deviation float64 `json:"deviation"`
}

// State is every field of one room's session read in a single round trip.
type State struct {
	RoomID         string
	Exists         bool
	Phase          Phase
	PhaseStartedAt time.Time
	Participants   []Participant
	Volunteers     []string
	Voted          []string
	SelectedGame   tiebreak.GameType
	Timing         []TimingRecord
	WinnerID       string
	Connections    []string
}

func (s State) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (s State) IsParticipant(userID string) bool {
	_, ok := s.Participant(userID)
	return ok
}

func (s State) HasVoted(userID string) bool {
	return slices.Contains(s.Voted, userID)
}

func (s State) IsVolunteer(userID string) bool {
	return slices.Contains(s.Volunteers, userID)
}

func (s State) IsConnected(userID string) bool {
	return slices.Contains(s.Connections, userID)
}

// Candidates returns the volunteers in roster order, or the whole roster
// when nobody volunteered.
func (s State) Candidates() []Participant {
	if len(s.Volunteers) == 0 {
		return slices.Clone(s.Participants)
	}
	out := make([]Participant, 0, len(s.Volunteers))
	for _, p := range s.Participants {
		if slices.Contains(s.Volunteers, p.UserID) {
			out = append(out, p)
		}
	}
	return out
}

func (s State) TimingFor(userID string) (TimingRecord, bool) {
	for _, r := range s.Timing {
		if r.UserID == userID {
			return r, true
		}
	}
	return TimingRecord{}, false
}
