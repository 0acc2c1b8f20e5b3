package submission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

// ErrNotFound is returned when a record does not exist or has been
// soft-deleted. The API does not distinguish the two cases.
var ErrNotFound = errors.New("not found")

// Repository is the persistence interface for answer records. Reads exclude
// soft-deleted rows; the rows themselves stay in place until the retention
// sweeper purges them.
type Repository interface {
	Create(ctx context.Context, rec *AnswerRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnswerRecord, error)
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*AnswerRecord, int, error)
	ListByConfiguration(ctx context.Context, teamID, configurationID uuid.UUID) ([]*AnswerRecord, error)
	SoftDelete(ctx context.Context, id uuid.UUID, deletedBy, reason string, retentionUntil time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ConfigurationSource resolves configurations for the submission flow. The
// formconfig resolver satisfies it; tests substitute a map-backed stub.
type ConfigurationSource interface {
	ResolveCurrent(ctx context.Context, teamID uuid.UUID, formKind string) (*forms.Configuration, error)
	ResolveByID(ctx context.Context, id uuid.UUID) (*forms.Configuration, error)
}
