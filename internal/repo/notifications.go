package repo

import (
	"context"
	"database/sql"

	"grantline/internal/domain"
)

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,project_id,event_id,user_id,kind,created_at,read_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.ProjectID, n.EventID, n.UserID, n.Kind, n.CreatedAt, nullable(n.ReadAt))
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,project_id,event_id,user_id,kind,created_at,COALESCE(read_at,'') FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.EventID, &n.UserID, &n.Kind, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) AckNotification(ctx context.Context, id, readAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE id=? AND read_at IS NULL`, readAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotificationsForEventTx drops notifications referencing an event,
// called when the event reaches a terminal status.
func (r Repo) DeleteNotificationsForEventTx(ctx context.Context, tx *sql.Tx, eventID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE event_id=?`, eventID)
	return err
}
