package database

import (
	"context"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
)

// SaveAlert appends an alert to the audit log.
func (d *Database) SaveAlert(ctx context.Context, record models.AlertRecord) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO alerts (id, session_id, count, message, delivered, created_at) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
		record.ID,
		record.SessionID,
		record.Count,
		record.Message,
		record.Delivered,
		record.CreatedAt,
	)

	return err
}
