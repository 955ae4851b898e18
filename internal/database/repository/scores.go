package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/jask/shellgame/internal/database"
)

// ScoreRepo handles match results.
type ScoreRepo struct {
	db *sql.DB
}

func NewScoreRepo(db *sql.DB) *ScoreRepo {
	return &ScoreRepo{db: db}
}

// Record stores a finished round against playerID.
func (r *ScoreRepo) Record(ctx context.Context, m Match) (Match, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.PlayedAt.IsZero() {
		m.PlayedAt = database.Now()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO matches(id, player_id, won, cap, ball, played_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.PlayerID, m.Won, m.Cap, m.Ball, m.PlayedAt)
	if err != nil {
		return Match{}, fmt.Errorf("record match: %w", err)
	}
	return m, nil
}

// Score returns the standing against the player with deviceID.
func (r *ScoreRepo) Score(ctx context.Context, deviceID string) (Standing, error) {
	all, err := r.standings(ctx, `WHERE p.device_id = ?`, deviceID)
	if err != nil {
		return Standing{}, err
	}
	if len(all) == 0 {
		return Standing{}, ErrNotFound
	}
	return all[0], nil
}

// History returns the latest rounds against playerID, newest first.
func (r *ScoreRepo) History(ctx context.Context, playerID string, limit int) ([]Match, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, player_id, won, cap, ball, played_at
	FROM matches
	WHERE player_id = ?
	ORDER BY played_at DESC, rowid DESC
	LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("match history: %w", err)
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.PlayerID, &m.Won, &m.Cap, &m.Ball, &m.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Standings lists every player with their score, best record first.
func (r *ScoreRepo) Standings(ctx context.Context) ([]Standing, error) {
	return r.standings(ctx, "")
}

// Closest finds the player whose name is nearest to name. Names further away
// than a third of their length are not considered a match.
func (r *ScoreRepo) Closest(ctx context.Context, name string) (Standing, error) {
	all, err := r.standings(ctx, "")
	if err != nil {
		return Standing{}, err
	}
	want := strings.ToUpper(strings.TrimSpace(name))
	best, bestDist := -1, 0
	for i, s := range all {
		got := strings.ToUpper(s.Player.Name)
		dist := levenshtein.ComputeDistance(want, got)
		if float64(dist)/float64(max(len(want), len(got), 1)) > 0.34 {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return Standing{}, ErrNotFound
	}
	return all[best], nil
}

func (r *ScoreRepo) standings(ctx context.Context, where string, args ...any) ([]Standing, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT p.id, p.device_id, p.name, p.created_at, p.updated_at,
	 COALESCE(SUM(CASE WHEN m.won = 1 THEN 1 ELSE 0 END), 0),
	 COALESCE(SUM(CASE WHEN m.won = 0 THEN 1 ELSE 0 END), 0)
	FROM players p
	LEFT JOIN matches m ON m.player_id = p.id
	`+where+`
	GROUP BY p.id
	ORDER BY 6 DESC, 7 ASC, p.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Standing
	for rows.Next() {
		var s Standing
		p := &s.Player
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Name, &p.CreatedAt, &p.UpdatedAt, &s.Wins, &s.Losses); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
