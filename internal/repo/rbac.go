package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsurePersonTx(ctx context.Context, tx *sql.Tx, personID, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO people(id, name, created_at) VALUES (?,?,?)`, personID, nullable(name), now)
	return err
}

func (r Repo) EnsureOrgTx(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) UpsertRoleTx(ctx context.Context, tx *sql.Tx, roleID, name string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO roles(id, name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, roleID, nullable(name))
	return err
}

func (r Repo) GrantRoleCapabilityTx(ctx context.Context, tx *sql.Tx, roleID, eventType string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_capabilities(role_id, event_type) VALUES (?,?)`, roleID, eventType)
	return err
}

func (r Repo) RevokeRoleCapabilityTx(ctx context.Context, tx *sql.Tx, roleID, eventType string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM role_capabilities WHERE role_id=? AND event_type=?`, roleID, eventType)
	return err
}

func (r Repo) GrantActorCapabilityTx(ctx context.Context, tx *sql.Tx, projectID, actorID, eventType string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_capabilities(project_id, actor_id, event_type) VALUES (?,?,?)`, projectID, actorID, eventType)
	return err
}

func (r Repo) RevokeActorCapabilityTx(ctx context.Context, tx *sql.Tx, projectID, actorID, eventType string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_capabilities WHERE project_id=? AND actor_id=? AND event_type=?`, projectID, actorID, eventType)
	return err
}

func (r Repo) AssignOrgRoleTx(ctx context.Context, tx *sql.Tx, orgID, actorID, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO org_roles(org_id, actor_id, role) VALUES (?,?,?)`, orgID, actorID, role)
	return err
}

// ActorCapabilities returns the event types an actor may originate on a
// project: direct grants plus the capabilities of every project role the
// actor holds via membership. Queried fresh on every call; role edits are
// visible without any cache invalidation step.
func (r Repo) ActorCapabilities(ctx context.Context, projectID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT event_type FROM actor_capabilities WHERE project_id=? AND actor_id=?
UNION
SELECT rc.event_type
FROM members m
JOIN role_capabilities rc ON rc.role_id = m.role_id
WHERE m.project_id=? AND m.person_id=?
ORDER BY event_type`, projectID, actorID, projectID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var caps []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// UsersInProjectRole returns the person ids holding roleID on the project.
func (r Repo) UsersInProjectRole(ctx context.Context, projectID, roleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT person_id FROM members WHERE project_id=? AND role_id=? ORDER BY person_id`, projectID, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersInOrgRole returns the actor ids holding an organisation role.
func (r Repo) UsersInOrgRole(ctx context.Context, orgID, role string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM org_roles WHERE org_id=? AND role=? ORDER BY actor_id`, orgID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
