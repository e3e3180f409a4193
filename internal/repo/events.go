package repo

import (
	"context"
	"database/sql"
	"strings"

	"grantline/internal/domain"
)

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var data string
	var resolvedBy, resolvedAt sql.NullString
	err := scan(&e.ID, &e.ProjectID, &e.Type, &e.Status, &data, &e.ActorID, &e.At, &resolvedBy, &resolvedAt)
	if err != nil {
		return e, err
	}
	e.Data = []byte(data)
	e.ResolvedBy = resolvedBy.String
	e.ResolvedAt = resolvedAt.String
	return e, nil
}

func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(id,project_id,type,status,data_json,actor_id,at,resolved_by,resolved_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Type, e.Status, string(e.Data), e.ActorID, e.At, nullable(e.ResolvedBy), nullable(e.ResolvedAt))
	return err
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,type,status,data_json,actor_id,at,resolved_by,resolved_at FROM events WHERE id=?`, id)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type EventFilters struct {
	ProjectID string
	Status    string
	Type      string
	Limit     int
}

// ListEvents returns events in insertion (seq) order; the pending subset of
// that order is the causal order the projection engine folds in.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT id,project_id,type,status,data_json,actor_id,at,resolved_by,resolved_at FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) PendingEvents(ctx context.Context, projectID string) ([]domain.Event, error) {
	return r.ListEvents(ctx, EventFilters{ProjectID: projectID, Status: domain.EventStatusPending})
}

// ResolveEventTx flips a pending event to its terminal status. It reports
// false when the event was already resolved (or never existed), so callers
// can distinguish a lost race from success.
func (r Repo) ResolveEventTx(ctx context.Context, tx *sql.Tx, eventID, status, resolvedBy, resolvedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE events SET status=?, resolved_by=?, resolved_at=? WHERE id=? AND status='pending'`,
		status, resolvedBy, resolvedAt, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
