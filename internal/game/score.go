package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Score is the running record against one opponent.
type Score struct {
	Wins   int
	Losses int
}

// Add returns the score with one more round counted.
func (s Score) Add(won bool) Score {
	if won {
		s.Wins++
	} else {
		s.Losses++
	}
	return s
}

// String renders the score as "W-L".
func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.Wins, s.Losses)
}

// ParseScore reads the "W-L" form written by String.
func ParseScore(v string) (Score, error) {
	w, l, ok := strings.Cut(strings.TrimSpace(v), "-")
	if !ok {
		return Score{}, fmt.Errorf("parse score %q: missing separator", v)
	}
	wins, err := strconv.Atoi(w)
	if err != nil || wins < 0 {
		return Score{}, fmt.Errorf("parse score %q: bad wins", v)
	}
	losses, err := strconv.Atoi(l)
	if err != nil || losses < 0 {
		return Score{}, fmt.Errorf("parse score %q: bad losses", v)
	}
	return Score{Wins: wins, Losses: losses}, nil
}
