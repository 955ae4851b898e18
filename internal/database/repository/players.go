package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/shellgame/internal/database"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PlayerRepo handles players.
type PlayerRepo struct {
	db *sql.DB
}

func NewPlayerRepo(db *sql.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// Upsert records the player's latest name under their device id and returns
// the stored row.
func (r *PlayerRepo) Upsert(ctx context.Context, deviceID, name string) (Player, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Player{}, fmt.Errorf("upsert player: empty device id")
	}
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO players(id, device_id, name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
	 name=excluded.name,
	 updated_at=excluded.updated_at;
	`, uuid.NewString(), deviceID, strings.TrimSpace(name), now, now)
	if err != nil {
		return Player{}, fmt.Errorf("upsert player: %w", err)
	}
	return r.ByDevice(ctx, deviceID)
}

func (r *PlayerRepo) ByDevice(ctx context.Context, deviceID string) (Player, error) {
	var p Player
	err := r.db.QueryRowContext(ctx, `SELECT id, device_id, name, created_at, updated_at FROM players WHERE device_id = ?`, deviceID).
		Scan(&p.ID, &p.DeviceID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, ErrNotFound
	}
	return p, err
}

func (r *PlayerRepo) List(ctx context.Context) ([]Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, device_id, name, created_at, updated_at FROM players ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
