package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grantline/internal/config"
	"grantline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,title,description,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.OwningOrg.ID, p.Title, nullable(p.Description), nullable(p.StartDate), nullable(p.EndDate), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject returns the canonical project with its sub-entities loaded.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc, startDate, endDate, raidID, raidTitle, orgName sql.NullString
	err := r.DB.QueryRowContext(ctx, `
SELECT p.id, p.org_id, COALESCE(o.name,''), p.title, p.description, p.start_date, p.end_date, p.raid_id, p.raid_title, p.created_at, p.updated_at
FROM projects p LEFT JOIN organizations o ON o.id = p.org_id
WHERE p.id=?`, id).
		Scan(&p.ID, &p.OwningOrg.ID, &orgName, &p.Title, &desc, &startDate, &endDate, &raidID, &raidTitle, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.OwningOrg.Name = orgName.String
	p.Description = desc.String
	p.StartDate = startDate.String
	p.EndDate = endDate.String
	if raidID.Valid && raidID.String != "" {
		p.Raid = &domain.RaidLink{ID: raidID.String, Title: raidTitle.String}
	}
	if p.CustomFields, err = r.customFields(ctx, id); err != nil {
		return p, err
	}
	if p.Members, err = r.ListMembers(ctx, id); err != nil {
		return p, err
	}
	if p.Products, err = r.ListProducts(ctx, id); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Project{}, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(ids) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return r.GetProject(ctx, ids[0])
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT p.id, p.org_id, COALESCE(o.name,''), p.title, COALESCE(p.description,''), COALESCE(p.start_date,''), COALESCE(p.end_date,''), p.created_at, p.updated_at
FROM projects p LEFT JOIN organizations o ON o.id = p.org_id
ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwningOrg.ID, &p.OwningOrg.Name, &p.Title, &p.Description, &p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ProjectOrgID(ctx context.Context, projectID string) (string, error) {
	var orgID string
	err := r.DB.QueryRowContext(ctx, `SELECT org_id FROM projects WHERE id=?`, projectID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return orgID, err
}

// Scalar field writes used when folding approved events into canonical
// state. Each bumps updated_at.

func (r Repo) SetProjectTitleTx(ctx context.Context, tx *sql.Tx, id, title, now string) error {
	return r.setProjectColumnTx(ctx, tx, id, "title", title, now)
}

func (r Repo) SetProjectDescriptionTx(ctx context.Context, tx *sql.Tx, id, description, now string) error {
	return r.setProjectColumnTx(ctx, tx, id, "description", description, now)
}

func (r Repo) SetProjectStartDateTx(ctx context.Context, tx *sql.Tx, id, startDate, now string) error {
	return r.setProjectColumnTx(ctx, tx, id, "start_date", startDate, now)
}

func (r Repo) SetProjectEndDateTx(ctx context.Context, tx *sql.Tx, id, endDate, now string) error {
	return r.setProjectColumnTx(ctx, tx, id, "end_date", endDate, now)
}

func (r Repo) SetProjectOrgTx(ctx context.Context, tx *sql.Tx, id, orgID, now string) error {
	return r.setProjectColumnTx(ctx, tx, id, "org_id", orgID, now)
}

func (r Repo) setProjectColumnTx(ctx context.Context, tx *sql.Tx, id, column, value, now string) error {
	// column comes from a fixed call-site set, never user input.
	query := fmt.Sprintf(`UPDATE projects SET %s=?, updated_at=? WHERE id=?`, column)
	res, err := tx.ExecContext(ctx, query, value, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRaidTx(ctx context.Context, tx *sql.Tx, projectID, raidID, raidTitle, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET raid_id=?, raid_title=?, updated_at=? WHERE id=?`,
		nullable(raidID), nullable(raidTitle), now, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) customFields(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT definition_id, value FROM custom_field_values WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fields map[string]string
	for rows.Next() {
		var def, val string
		if err := rows.Scan(&def, &val); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = map[string]string{}
		}
		fields[def] = val
	}
	return fields, rows.Err()
}

func (r Repo) UpsertCustomFieldTx(ctx context.Context, tx *sql.Tx, projectID, definitionID, value string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO custom_field_values(project_id,definition_id,value) VALUES (?,?,?)
ON CONFLICT(project_id,definition_id) DO UPDATE SET value=excluded.value`, projectID, definitionID, value)
	return err
}

func (r Repo) ListProducts(ctx context.Context, projectID string) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, COALESCE(category,'') FROM products WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProductTx(ctx context.Context, tx *sql.Tx, projectID string, p domain.Product, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO products(id,project_id,name,category,created_at) VALUES (?,?,?,?,?)`,
		p.ID, projectID, p.Name, nullable(p.Category), now)
	return err
}

func (r Repo) DeleteProductTx(ctx context.Context, tx *sql.Tx, projectID, productID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM products WHERE project_id=? AND id=?`, projectID, productID)
	return err
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT m.id, m.person_id, COALESCE(pe.name,''), m.role_id, COALESCE(ro.name,'')
FROM members m
LEFT JOIN people pe ON pe.id = m.person_id
LEFT JOIN roles ro ON ro.id = m.role_id
WHERE m.project_id=? ORDER BY m.created_at, m.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.PersonID, &m.PersonName, &m.RoleID, &m.RoleName); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertMemberTx(ctx context.Context, tx *sql.Tx, memberID, projectID, personID, roleID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO members(id,project_id,person_id,role_id,created_at) VALUES (?,?,?,?,?)`,
		memberID, projectID, personID, roleID, now)
	return err
}

func (r Repo) DeleteMemberTx(ctx context.Context, tx *sql.Tx, projectID, personID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM members WHERE project_id=? AND person_id=? AND role_id=?`, projectID, personID, roleID)
	return err
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
