package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrNoRound is returned by Answer when no ball is hidden.
var ErrNoRound = errors.New("game: no ball hidden")

// Hider is the hiding side: it puts the ball under a random cap and judges
// the guess.
type Hider struct {
	caps int

	mu     sync.Mutex
	rng    *rand.Rand
	ball   int
	hidden bool
	score  Score
}

// NewHider returns a hider over caps caps. The seed makes ball placement
// reproducible.
func NewHider(caps int, seed int64) *Hider {
	return &Hider{caps: caps, rng: rand.New(rand.NewSource(seed))}
}

// Caps returns the number of caps per round.
func (h *Hider) Caps() int { return h.caps }

// Hide places the ball for a new round and returns the cap count to announce.
func (h *Hider) Hide() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ball = h.rng.Intn(h.caps)
	h.hidden = true
	return h.caps
}

// Answer judges a guess and ends the round. NoGuess always loses.
func (h *Hider) Answer(idx int) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hidden {
		return Result{}, ErrNoRound
	}
	if idx != NoGuess && (idx < 0 || idx >= h.caps) {
		return Result{}, fmt.Errorf("answer %d of %d: %w", idx, h.caps, ErrBadCap)
	}
	h.hidden = false
	res := Result{Cap: idx, Ball: h.ball, Win: idx == h.ball}
	// The hider's own record is the mirror of the guesser's.
	h.score = h.score.Add(!res.Win)
	return res, nil
}

// Score returns the hider's record.
func (h *Hider) Score() Score {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score
}
