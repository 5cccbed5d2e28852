package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/sleepwell/internal/reminder"
)

// LoadConfig returns the cached reminder configuration, or (nil, nil) if none is stored.
func (db *DB) LoadConfig(ctx context.Context) (*reminder.Config, error) {
	var preferred, suggested sql.NullString
	var lastFired sql.NullTime
	row := db.conn.QueryRowContext(ctx, `
		SELECT preferred_time, suggested_time, last_fired_at
		FROM reminder_state WHERE id = 1
	`)
	if err := row.Scan(&preferred, &suggested, &lastFired); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load reminder state: %w", err)
	}

	cfg := &reminder.Config{}
	var err error
	if cfg.PreferredTime, err = parseStoredTime(preferred); err != nil {
		return nil, err
	}
	if cfg.SuggestedTime, err = parseStoredTime(suggested); err != nil {
		return nil, err
	}
	if lastFired.Valid {
		cfg.LastFiredAt = lastFired.Time
	}
	return cfg, nil
}

// SaveConfig replaces the cached reminder configuration.
func (db *DB) SaveConfig(ctx context.Context, cfg reminder.Config) error {
	var lastFired sql.NullTime
	if !cfg.LastFiredAt.IsZero() {
		lastFired = sql.NullTime{Time: cfg.LastFiredAt, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO reminder_state (id, preferred_time, suggested_time, last_fired_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preferred_time = excluded.preferred_time,
			suggested_time = excluded.suggested_time,
			last_fired_at = excluded.last_fired_at
	`,
		storedTime(cfg.PreferredTime),
		storedTime(cfg.SuggestedTime),
		lastFired,
	)
	if err != nil {
		return fmt.Errorf("failed to save reminder state: %w", err)
	}
	return nil
}

func storedTime(t *reminder.TimeOfDay) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

func parseStoredTime(s sql.NullString) (*reminder.TimeOfDay, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := reminder.ParseTimeOfDay(s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored reminder time: %w", err)
	}
	return &t, nil
}
