package tiebreak

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

type TimingEntry struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Deviation   float64 `json:"deviation"`
}

type TimingBoard struct {
	Records []TimingEntry `json:"records"`
}

// PlayTiming picks the candidate with the largest recorded deviation.
// Ties go to the earlier candidate. The generator is unused.
func PlayTiming(candidates []Candidate, _ *rand.Rand) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}

	entries := make([]TimingEntry, len(candidates))
	for i, c := range candidates {
		entries[i] = TimingEntry{UserID: c.UserID, DisplayName: c.DisplayName, Deviation: c.Score}
	}
	slices.SortStableFunc(entries, func(a, b TimingEntry) int {
		return cmp.Compare(b.Deviation, a.Deviation)
	})

	top := entries[0]
	return Result{
		Game:          GameTiming,
		WinnerID:      top.UserID,
		WinnerName:    top.DisplayName,
		Visualization: TimingBoard{Records: entries},
	}, nil
}
