package tiebreak

import "math/rand/v2"

type RouletteSpin struct {
	Slots         int `json:"slots"`
	SelectedIndex int `json:"selectedIndex"`
}

func PlayRoulette(candidates []Candidate, rng *rand.Rand) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	i := rng.IntN(len(candidates))
	return Result{
		Game:          GameRoulette,
		WinnerID:      candidates[i].UserID,
		WinnerName:    candidates[i].DisplayName,
		Visualization: RouletteSpin{Slots: len(candidates), SelectedIndex: i},
	}, nil
}
