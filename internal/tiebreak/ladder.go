package tiebreak

import (
	"fmt"
	"math/rand/v2"
)

const (
	LadderRows       = 10
	LadderTargetLane = 1
)

// LadderBoard is a ladder-lottery grid. Rows[r][i] is a rung between lane i
// and lane i+1; no row has two rungs touching the same lane.
type LadderBoard struct {
	Lanes      int      `json:"lanes"`
	Rows       [][]bool `json:"rows"`
	Mapping    []int    `json:"mapping"`
	TargetLane int      `json:"targetLane"`
}

func BuildLadder(lanes, rows int, rng *rand.Rand) LadderBoard {
	b := LadderBoard{
		Lanes:      lanes,
		Rows:       make([][]bool, rows),
		TargetLane: LadderTargetLane,
	}
	for r := range b.Rows {
		row := make([]bool, max(lanes-1, 0))
		for i := range row {
			if i > 0 && row[i-1] {
				continue
			}
			row[i] = rng.IntN(2) == 0
		}
		b.Rows[r] = row
	}

	b.Mapping = make([]int, lanes)
	for start := range b.Mapping {
		b.Mapping[start] = b.Descend(start)
	}
	return b
}

// Descend follows a lane from the top to the bottom of the board.
func (b LadderBoard) Descend(lane int) int {
	for _, row := range b.Rows {
		switch {
		case lane < len(row) && row[lane]:
			lane++
		case lane > 0 && row[lane-1]:
			lane--
		}
	}
	return lane
}

func PlayLadder(candidates []Candidate, rng *rand.Rand) (Result, error) {
	if len(candidates) < 2 {
		return Result{}, fmt.Errorf("ladder needs at least 2 candidates, got %d: %w", len(candidates), ErrTooFewCandidates)
	}

	board := BuildLadder(len(candidates), LadderRows, rng)
	for start, end := range board.Mapping {
		if end == board.TargetLane {
			c := candidates[start]
			return Result{
				Game:          GameLadder,
				WinnerID:      c.UserID,
				WinnerName:    c.DisplayName,
				Visualization: board,
			}, nil
		}
	}
	return Result{}, fmt.Errorf("ladder has no lane ending at %d", board.TargetLane)
}
