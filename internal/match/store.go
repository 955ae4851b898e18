// Package match plays games over a session: the hosting side hides the ball,
// the joining side guesses, and both keep score per opponent.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jask/shellgame/internal/database/repository"
	"github.com/jask/shellgame/internal/game"
	"github.com/jask/shellgame/internal/session"
)

// Store keeps per-opponent scores.
type Store interface {
	// Seen records the opponent and returns the score against them so far.
	Seen(ctx context.Context, p session.Peer) (game.Score, error)
	// Record adds a finished round against the opponent.
	Record(ctx context.Context, p session.Peer, res game.Result, won bool) error
}

// DBStore is the sqlite-backed Store.
type DBStore struct {
	Players *repository.PlayerRepo
	Scores  *repository.ScoreRepo
}

func (d DBStore) Seen(ctx context.Context, p session.Peer) (game.Score, error) {
	if _, err := d.Players.Upsert(ctx, p.Device, p.Name); err != nil {
		return game.Score{}, err
	}
	st, err := d.Scores.Score(ctx, p.Device)
	if err != nil {
		return game.Score{}, fmt.Errorf("score for %s: %w", p.Name, err)
	}
	return game.Score{Wins: st.Wins, Losses: st.Losses}, nil
}

func (d DBStore) Record(ctx context.Context, p session.Peer, res game.Result, won bool) error {
	player, err := d.Players.ByDevice(ctx, p.Device)
	if errors.Is(err, repository.ErrNotFound) {
		player, err = d.Players.Upsert(ctx, p.Device, p.Name)
	}
	if err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	_, err = d.Scores.Record(ctx, repository.Match{PlayerID: player.ID, Won: won, Cap: res.Cap, Ball: res.Ball})
	return err
}

// MemStore keeps scores for the life of the process.
type MemStore struct {
	mu     sync.Mutex
	scores map[string]game.Score
}

func (m *MemStore) Seen(_ context.Context, p session.Peer) (game.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[p.Device], nil
}

func (m *MemStore) Record(_ context.Context, p session.Peer, _ game.Result, won bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scores == nil {
		m.scores = make(map[string]game.Score)
	}
	m.scores[p.Device] = m.scores[p.Device].Add(won)
	return nil
}
