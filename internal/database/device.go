package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const deviceKey = "device_id"

// EnsureLocalDevice returns this installation's device id, creating it on
// first use. Opponents key scores by it, so it must stay stable.
func EnsureLocalDevice(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, deviceKey).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `INSERT INTO settings(key, value) VALUES (?, ?)`, deviceKey, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("local device id: %w", err)
	}
	return id, nil
}
