package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/sleepwell/internal/memgame"
)

// RecordSession stores a completed memory-game session.
func (db *DB) RecordSession(ctx context.Context, s memgame.Summary) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO game_sessions (id, started_at, completed_at, pairs, attempts)
		VALUES (?, ?, ?, ?, ?)
	`, s.SessionID, s.StartedAt, s.CompletedAt, s.Pairs, s.Attempts)
	if err != nil {
		return fmt.Errorf("failed to record game session %s: %w", s.SessionID, err)
	}
	return nil
}

// GetRecentSessions returns up to limit completed sessions, newest first.
func (db *DB) GetRecentSessions(ctx context.Context, limit int) ([]memgame.Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, completed_at, pairs, attempts
		FROM game_sessions
		ORDER BY completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent game sessions: %w", err)
	}
	defer rows.Close()

	var sessions []memgame.Summary
	for rows.Next() {
		var s memgame.Summary
		if err := rows.Scan(&s.SessionID, &s.StartedAt, &s.CompletedAt, &s.Pairs, &s.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan game session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
