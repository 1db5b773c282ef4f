// Package tiebreak holds the mini-games used to pick one leader among
// several candidates. Every game is a pure function of the candidate list
// and the random generator it is handed.
package tiebreak

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

type GameType string

const (
	GameLadder   GameType = "LADDER"
	GameRoulette GameType = "ROULETTE"
	GameTiming   GameType = "TIMING"
)

var (
	ErrUnknownGame      = errors.New("unknown game type")
	ErrNoCandidates     = errors.New("no candidates")
	ErrTooFewCandidates = errors.New("not enough candidates")
)

func ParseGameType(s string) (GameType, error) {
	t := GameType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case GameLadder, GameRoulette, GameTiming:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGame, s)
}

type Candidate struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	AvatarRef   string  `json:"avatarRef,omitempty"`
	Score       float64 `json:"-"`
}

type Result struct {
	Game          GameType `json:"game"`
	WinnerID      string   `json:"winnerId"`
	WinnerName    string   `json:"winnerName"`
	Visualization any      `json:"visualization"`
}

type PlayFunc func(candidates []Candidate, rng *rand.Rand) (Result, error)

// Game is one registry entry. Interactive games need a client round
// (scores on the candidates) before Play can pick a winner.
type Game struct {
	Type        GameType
	Interactive bool
	Play        PlayFunc
}

type Registry map[GameType]Game

func DefaultRegistry() Registry {
	return Registry{
		GameLadder:   {Type: GameLadder, Play: PlayLadder},
		GameRoulette: {Type: GameRoulette, Play: PlayRoulette},
		GameTiming:   {Type: GameTiming, Interactive: true, Play: PlayTiming},
	}
}

func (r Registry) Lookup(t GameType) (Game, error) {
	g, ok := r[t]
	if !ok || g.Play == nil {
		return Game{}, fmt.Errorf("%w: %q", ErrUnknownGame, t)
	}
	return g, nil
}
