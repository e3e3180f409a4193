package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"grantline/internal/domain"
)

func scanPolicy(scan func(dest ...any) error) (domain.Policy, error) {
	var p domain.Policy
	var eventTypes, recipients string
	var enabled int
	err := scan(&p.ID, &p.Scope, &p.OwnerID, &p.Name, &eventTypes, &p.ActionType, &recipients, &enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(eventTypes), &p.EventTypes); err != nil {
		return p, fmt.Errorf("policy %s event types: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(recipients), &p.Recipients); err != nil {
		return p, fmt.Errorf("policy %s recipients: %w", p.ID, err)
	}
	p.Enabled = enabled != 0
	return p, nil
}

func (r Repo) InsertPolicyTx(ctx context.Context, tx *sql.Tx, p domain.Policy) error {
	eventTypes, err := json.Marshal(p.EventTypes)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(p.Recipients)
	if err != nil {
		return err
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO policies(id,scope,owner_id,name,event_types_json,action_type,recipients_json,enabled,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Scope, p.OwnerID, p.Name, string(eventTypes), p.ActionType, string(recipients), enabled, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdatePolicyTx(ctx context.Context, tx *sql.Tx, p domain.Policy) error {
	eventTypes, err := json.Marshal(p.EventTypes)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(p.Recipients)
	if err != nil {
		return err
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE policies SET name=?, event_types_json=?, action_type=?, recipients_json=?, enabled=?, updated_at=? WHERE id=?`,
		p.Name, string(eventTypes), p.ActionType, string(recipients), enabled, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePolicyTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPolicy(ctx context.Context, id string) (domain.Policy, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,scope,owner_id,name,event_types_json,action_type,recipients_json,enabled,created_at,updated_at FROM policies WHERE id=?`, id)
	p, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// ListPolicies returns project-scoped policies, plus the owning
// organisation's policies when includeInherited is set.
func (r Repo) ListPolicies(ctx context.Context, projectID, orgID string, includeInherited bool) ([]domain.Policy, error) {
	query := `SELECT id,scope,owner_id,name,event_types_json,action_type,recipients_json,enabled,created_at,updated_at FROM policies WHERE (scope='project' AND owner_id=?)`
	args := []any{projectID}
	if includeInherited && orgID != "" {
		query += ` OR (scope='org' AND owner_id=?)`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
