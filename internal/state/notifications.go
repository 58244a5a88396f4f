package state

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// CreateNotification stores a human-facing alert.
func (db *DB) CreateNotification(n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO notifications (id, job_id, kind, title, body, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, nullString(n.JobID), n.Kind, n.Title, n.Body, boolToInt(n.Read), formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications newest first.
func (db *DB) ListNotifications(unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT id, COALESCE(job_id, ''), kind, title, body, read, created_at FROM notifications`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var read int
		var createdAt string
		if err := rows.Scan(&n.ID, &n.JobID, &n.Kind, &n.Title, &n.Body, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt, _ = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags one notification as read.
func (db *DB) MarkNotificationRead(id string) error {
	res, err := db.conn.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
