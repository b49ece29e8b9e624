package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
)

func (d *Database) CreateSession(ctx context.Context, session *models.Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, call_type, action, video_source, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
			 	ON CONFLICT (id) DO UPDATE SET action = $7, video_source = $4, updated_at = NOW()`,
		session.ID,
		session.CallType,
		session.Action,
		session.VideoSource,
		session.CreatedAt,
		session.UpdatedAt,
		models.CommandStart,
	)

	return err
}

func (d *Database) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, call_type, action, video_source, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, sessionID)

	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.CallType,
		&session.Action,
		&session.VideoSource,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Сессия не найдена - это не ошибка
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// GetInactiveSessions retrieves sessions marked as stopped
func (d *Database) GetInactiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, call_type, action, video_source, created_at, updated_at
		FROM sessions
		WHERE action = $1
	`, models.CommandStop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		err := rows.Scan(
			&s.ID,
			&s.CallType,
			&s.Action,
			&s.VideoSource,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (d *Database) ChangeSessionAction(ctx context.Context, sessionID string, newAction models.CommandAction) error {
	_, err := d.DB.ExecContext(ctx,
		"UPDATE sessions SET action = $1, updated_at = $2 WHERE id = $3",
		newAction,
		time.Now(),
		sessionID,
	)

	return err
}

func (d *Database) UpdateSessionTimestamp(ctx context.Context, sessionID string) error {
	_, err := d.DB.ExecContext(ctx,
		"UPDATE sessions SET updated_at = $1 WHERE id = $2",
		time.Now(),
		sessionID,
	)

	return err
}
