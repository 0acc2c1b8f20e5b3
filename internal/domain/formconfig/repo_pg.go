package formconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinform/clinform/internal/platform/db"
	"github.com/clinform/clinform/internal/platform/forms"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func NewAssignmentRepo(pool *pgxpool.Pool) AssignmentRepository {
	return &repoPG{pool: pool}
}

func NewTeamDirectory(pool *pgxpool.Pool) TeamDirectory {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const cfgCols = `id, owner_team_id, form_kind, version, status, specialty, description,
	sections, created_by, created_at`

func (r *repoPG) Create(ctx context.Context, cfg *forms.Configuration) error {
	cfg.ID = uuid.New()
	if cfg.Status == "" {
		cfg.Status = forms.StatusDraft
	}
	sections, err := json.Marshal(cfg.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	// The version subselect and the unique index together keep version
	// numbers monotonic per lineage under concurrent creates.
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO form_configurations (
			id, owner_team_id, form_kind, version, status, specialty, description,
			sections, created_by
		) VALUES (
			$1, $2, $3,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM form_configurations
			 WHERE owner_team_id IS NOT DISTINCT FROM $2 AND form_kind = $3),
			$4, $5, $6, $7, $8
		)
		RETURNING version, created_at`,
		cfg.ID, cfg.OwnerTeamID, cfg.FormKind, cfg.Status,
		cfg.Metadata.Specialty, cfg.Metadata.Description, sections, cfg.CreatedBy,
	).Scan(&cfg.Version, &cfg.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*forms.Configuration, error) {
	return scanCfg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM form_configurations WHERE id = $1`, id))
}

func (r *repoPG) GetVersion(ctx context.Context, ownerTeamID *uuid.UUID, formKind string, version int) (*forms.Configuration, error) {
	return scanCfg(r.conn(ctx).QueryRow(ctx, `
		SELECT `+cfgCols+` FROM form_configurations
		WHERE owner_team_id IS NOT DISTINCT FROM $1 AND form_kind = $2 AND version = $3`,
		ownerTeamID, formKind, version))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*forms.Configuration, int, error) {
	query := `SELECT ` + cfgCols + ` FROM form_configurations WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM form_configurations WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.FormKind != "" {
		query += fmt.Sprintf(` AND form_kind = $%d`, idx)
		countQuery += fmt.Sprintf(` AND form_kind = $%d`, idx)
		args = append(args, f.FormKind)
		idx++
	}
	if f.OwnerTeamID != nil {
		query += fmt.Sprintf(` AND owner_team_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND owner_team_id = $%d`, idx)
		args = append(args, *f.OwnerTeamID)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectCfgs(rows, total)
}

func (r *repoPG) ListVersions(ctx context.Context, ownerTeamID *uuid.UUID, formKind string) ([]*forms.Configuration, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cfgCols+` FROM form_configurations
		WHERE owner_team_id IS NOT DISTINCT FROM $1 AND form_kind = $2
		ORDER BY version DESC`,
		ownerTeamID, formKind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cfgs, _, err := collectCfgs(rows, 0)
	return cfgs, err
}

// Activate promotes cfg and demotes whatever was active in its scope. One
// statement, so the demote and the promote are never observable apart;
// concurrent activations of the same scope land last-writer-wins. The scope
// includes the specialty tag: a specialty default and the generic default
// for the same form kind stay active side by side.
func (r *repoPG) Activate(ctx context.Context, cfg *forms.Configuration) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE form_configurations
		SET status = CASE WHEN id = $1 THEN 'active' ELSE 'inactive' END
		WHERE owner_team_id IS NOT DISTINCT FROM $2 AND form_kind = $3 AND specialty = $4
		  AND (id = $1 OR status = 'active')`,
		cfg.ID, cfg.OwnerTeamID, cfg.FormKind, cfg.Metadata.Specialty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE form_configurations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM form_configurations WHERE status = 'active'`).Scan(&n)
	return n, err
}

func (r *repoPG) ActiveBySpecialty(ctx context.Context, formKind, specialty string) (*forms.Configuration, error) {
	return scanCfg(r.conn(ctx).QueryRow(ctx, `
		SELECT `+cfgCols+` FROM form_configurations
		WHERE owner_team_id IS NULL AND form_kind = $1 AND specialty = $2 AND status = 'active'
		ORDER BY version DESC LIMIT 1`,
		formKind, specialty))
}

func (r *repoPG) ActiveDefault(ctx context.Context, formKind string) (*forms.Configuration, error) {
	return scanCfg(r.conn(ctx).QueryRow(ctx, `
		SELECT `+cfgCols+` FROM form_configurations
		WHERE owner_team_id IS NULL AND form_kind = $1 AND specialty = '' AND status = 'active'
		ORDER BY version DESC LIMIT 1`,
		formKind))
}

func scanCfg(row pgx.Row) (*forms.Configuration, error) {
	var c forms.Configuration
	var sections []byte
	if err := row.Scan(
		&c.ID, &c.OwnerTeamID, &c.FormKind, &c.Version, &c.Status,
		&c.Metadata.Specialty, &c.Metadata.Description,
		&sections, &c.CreatedBy, &c.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(sections, &c.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return &c, nil
}

func collectCfgs(rows pgx.Rows, total int) ([]*forms.Configuration, int, error) {
	var cfgs []*forms.Configuration
	for rows.Next() {
		cfg, err := scanCfg(rows)
		if err != nil {
			return nil, 0, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, total, rows.Err()
}

// -- Assignments --

const asgCols = `team_id, form_kind, configuration_id, assigned_by, assigned_at`

func (r *repoPG) Upsert(ctx context.Context, a *Assignment) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO form_assignments (team_id, form_kind, configuration_id, assigned_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, form_kind) DO UPDATE
		SET configuration_id = EXCLUDED.configuration_id,
		    assigned_by = EXCLUDED.assigned_by,
		    assigned_at = NOW()
		RETURNING assigned_at`,
		a.TeamID, a.FormKind, a.ConfigurationID, a.AssignedBy,
	).Scan(&a.AssignedAt)
}

func (r *repoPG) Get(ctx context.Context, teamID uuid.UUID, formKind string) (*Assignment, error) {
	var a Assignment
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+asgCols+` FROM form_assignments
		WHERE team_id = $1 AND form_kind = $2`,
		teamID, formKind,
	).Scan(&a.TeamID, &a.FormKind, &a.ConfigurationID, &a.AssignedBy, &a.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Delete(ctx context.Context, teamID uuid.UUID, formKind string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM form_assignments WHERE team_id = $1 AND form_kind = $2`,
		teamID, formKind)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Team directory --

func (r *repoPG) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	var t Team
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, specialty, created_at FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Specialty, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
