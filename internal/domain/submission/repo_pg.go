package submission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinform/clinform/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
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

const recCols = `id, subject_id, team_id, configuration_id, configuration_version,
	answer_values, submitted_by, submitted_at, deleted_at, deleted_by, deletion_reason, retention_until`

func (r *repoPG) Create(ctx context.Context, rec *AnswerRecord) error {
	rec.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO answer_records (
			id, subject_id, team_id, configuration_id, configuration_version,
			answer_values, submitted_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING submitted_at`,
		rec.ID, rec.SubjectID, rec.TeamID, rec.ConfigurationID,
		rec.ConfigurationVersion, []byte(rec.Values), rec.SubmittedBy,
	).Scan(&rec.SubmittedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*AnswerRecord, error) {
	return scanRec(r.conn(ctx).QueryRow(ctx, `
		SELECT `+recCols+` FROM answer_records
		WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*AnswerRecord, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM answer_records
		WHERE subject_id = $1 AND deleted_at IS NULL`, subjectID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recCols+` FROM answer_records
		WHERE subject_id = $1 AND deleted_at IS NULL
		ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`,
		subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecs(rows, total)
}

func (r *repoPG) ListByConfiguration(ctx context.Context, teamID, configurationID uuid.UUID) ([]*AnswerRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recCols+` FROM answer_records
		WHERE team_id = $1 AND configuration_id = $2 AND deleted_at IS NULL
		ORDER BY submitted_at`,
		teamID, configurationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, _, err := collectRecs(rows, 0)
	return recs, err
}

// SoftDelete hides the record from every read and stamps the retention
// deadline. The WHERE clause makes a second delete of the same record a
// no-op reported as not found, so the original audit trail survives.
func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy, reason string, retentionUntil time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE answer_records
		SET deleted_at = NOW(), deleted_by = $2, deletion_reason = $3, retention_until = $4
		WHERE id = $1 AND deleted_at IS NULL`,
		id, deletedBy, reason, retentionUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM answer_records
		WHERE deleted_at IS NOT NULL AND retention_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRec(row pgx.Row) (*AnswerRecord, error) {
	var rec AnswerRecord
	var values []byte
	var deletedBy, deletionReason *string
	if err := row.Scan(
		&rec.ID, &rec.SubjectID, &rec.TeamID, &rec.ConfigurationID,
		&rec.ConfigurationVersion, &values, &rec.SubmittedBy, &rec.SubmittedAt,
		&rec.DeletedAt, &deletedBy, &deletionReason, &rec.RetentionUntil,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Values = values
	if deletedBy != nil {
		rec.DeletedBy = *deletedBy
	}
	if deletionReason != nil {
		rec.DeletionReason = *deletionReason
	}
	return &rec, nil
}

func collectRecs(rows pgx.Rows, total int) ([]*AnswerRecord, int, error) {
	var recs []*AnswerRecord
	for rows.Next() {
		rec, err := scanRec(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}
