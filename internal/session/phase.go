package session

type Phase string

const (
	PhasePending     Phase = "PENDING"
	PhaseVolunteer   Phase = "VOLUNTEER"
	PhaseGameSelect  Phase = "GAME_SELECT"
	PhaseGameReady   Phase = "GAME_READY"
	PhaseGamePlaying Phase = "GAME_PLAYING"
	PhaseResult      Phase = "RESULT"
)

var transitions = map[Phase][]Phase{
	PhasePending:     {PhaseVolunteer},
	PhaseVolunteer:   {PhaseGameSelect, PhaseResult},
	PhaseGameSelect:  {PhaseGameReady, PhaseResult},
	PhaseGameReady:   {PhaseGamePlaying},
	PhaseGamePlaying: {PhaseResult},
}

func (p Phase) String() string {
	return string(p)
}

// CanTransitionTo reports whether target is a forward edge from p.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, next := range transitions[p] {
		if next == target {
			return true
		}
	}
	return false
}

// Timed reports whether the phase ends on a server timer.
func (p Phase) Timed() bool {
	return p == PhaseVolunteer
}
