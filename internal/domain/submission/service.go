package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/platform/forms"
	"github.com/clinform/clinform/internal/platform/telemetry"
)

// Service validates and stores submissions against the submitting team's
// current configuration and expands stored records back through their
// pinned version.
type Service struct {
	repo      Repository
	configs   ConfigurationSource
	registry  *forms.Registry
	retention time.Duration
	tel       *telemetry.TelemetryProvider
}

func NewService(repo Repository, configs ConfigurationSource, registry *forms.Registry, retention time.Duration, tel *telemetry.TelemetryProvider) *Service {
	return &Service{
		repo:      repo,
		configs:   configs,
		registry:  registry,
		retention: retention,
		tel:       tel,
	}
}

// Submit validates the raw answers against the team's current configuration
// for the form kind. On validation failure the check result is returned and
// nothing is stored; on success the record is stored pinned to the exact
// configuration version it was validated against.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest, submittedBy string) (*AnswerRecord, *forms.CheckResult, error) {
	cfg, err := s.configs.ResolveCurrent(ctx, req.TeamID, req.FormKind)
	if err != nil {
		return nil, nil, err
	}

	validator, err := s.registry.Compile(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("compile configuration %s: %w", cfg.ID, err)
	}

	res := validator.Check(req.Answers)
	if !res.Valid {
		return nil, res, nil
	}

	data, err := json.Marshal(res.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("encode values: %w", err)
	}

	rec := &AnswerRecord{
		SubjectID:            req.SubjectID,
		TeamID:               req.TeamID,
		ConfigurationID:      cfg.ID,
		ConfigurationVersion: cfg.Version,
		Values:               data,
		SubmittedBy:          submittedBy,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("store record: %w", err)
	}

	s.tel.FormOperationCounter("submissions", "submit")
	return rec, nil, nil
}

// Get returns the stored record as-is, canonical values included.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*AnswerRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// Answers expands a stored record back to flattened UI shape using its
// pinned configuration version. A record whose version can no longer be
// fetched is unrenderable and reported as such, never half-decoded.
func (s *Service) Answers(ctx context.Context, id uuid.UUID) (*AnswerSet, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg, err := s.configs.ResolveByID(ctx, rec.ConfigurationID)
	if err != nil {
		if errors.Is(err, formconfig.ErrNotFound) {
			return nil, fmt.Errorf("configuration %s for record %s: %w",
				rec.ConfigurationID, rec.ID, forms.ErrConfigurationVersionUnavailable)
		}
		return nil, err
	}

	vals, bag, err := s.registry.DecodeValues(cfg, rec.Values)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	answers, err := s.registry.Denormalize(cfg, vals, bag)
	if err != nil {
		return nil, fmt.Errorf("expand record %s: %w", rec.ID, err)
	}

	return &AnswerSet{
		SubmissionID:         rec.ID,
		SubjectID:            rec.SubjectID,
		FormKind:             cfg.FormKind,
		ConfigurationID:      cfg.ID,
		ConfigurationVersion: cfg.Version,
		Answers:              answers,
	}, nil
}

// ListBySubject returns the subject's submissions, newest first, excluding
// soft-deleted records.
func (s *Service) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*AnswerRecord, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}

// Delete soft-deletes a record and stamps its retention deadline. The row
// stays readable to the purge sweeper alone until the deadline passes.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, deletedBy, reason string) error {
	retainUntil := time.Now().UTC().Add(s.retention)
	if err := s.repo.SoftDelete(ctx, id, deletedBy, reason, retainUntil); err != nil {
		return err
	}
	s.tel.FormOperationCounter("submissions", "delete")
	return nil
}

// PurgeExpired permanently removes soft-deleted records whose retention
// window has closed and reports how many went.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.tel.FormOperationCounter("submissions", "purge")
	}
	return n, nil
}

// Summary aggregates the team's records for the form kind over the team's
// current configuration version. Only canonical values count; legacy bag
// leftovers on migrated records are display-only and never aggregated.
func (s *Service) Summary(ctx context.Context, teamID uuid.UUID, formKind string) (*SummaryReport, error) {
	cfg, err := s.configs.ResolveCurrent(ctx, teamID, formKind)
	if err != nil {
		return nil, err
	}

	recs, err := s.repo.ListByConfiguration(ctx, teamID, cfg.ID)
	if err != nil {
		return nil, err
	}

	decoded := make([]forms.Values, 0, len(recs))
	for _, rec := range recs {
		vals, _, err := s.registry.DecodeValues(cfg, rec.Values)
		if err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
		}
		decoded = append(decoded, vals)
	}

	report := &SummaryReport{
		FormKind:             formKind,
		TeamID:               teamID,
		ConfigurationID:      cfg.ID,
		ConfigurationVersion: cfg.Version,
		Submissions:          len(recs),
	}
	for _, ff := range cfg.FlatFields() {
		if !ff.Section.Enabled {
			continue
		}
		report.Fields = append(report.Fields, summarizeField(ff.Field, decoded))
	}
	return report, nil
}

func summarizeField(f *forms.Field, decoded []forms.Values) FieldSummary {
	fs := FieldSummary{FieldID: f.ID, Label: f.Label, Type: f.Type}
	switch {
	case f.Select != nil:
		counts := make(map[string]int)
		for _, vals := range decoded {
			v, ok := vals[f.ID]
			if !ok || v.Str == nil {
				continue
			}
			fs.Answered++
			counts[*v.Str]++
		}
		for _, opt := range f.Select.Options {
			fs.Options = append(fs.Options, OptionSummary{
				Value:    opt.Value,
				Label:    opt.Label,
				Selected: counts[opt.Value],
			})
		}
	case f.Checkbox != nil:
		accs := make(map[string]*severityAcc)
		for _, vals := range decoded {
			v, ok := vals[f.ID]
			if !ok || v.Options == nil {
				continue
			}
			fs.Answered++
			for val, sel := range v.Options {
				if !sel.Selected {
					continue
				}
				a := accs[val]
				if a == nil {
					a = &severityAcc{}
					accs[val] = a
				}
				a.add(sel.Severity)
			}
		}
		for _, opt := range f.Checkbox.Options {
			os := OptionSummary{Value: opt.Value, Label: opt.Label}
			if a := accs[opt.Value]; a != nil {
				os.Selected = a.selected
				os.SeverityMin, os.SeverityMax, os.SeverityAvg = a.stats()
			}
			fs.Options = append(fs.Options, os)
		}
	default:
		for _, vals := range decoded {
			if _, ok := vals[f.ID]; ok {
				fs.Answered++
			}
		}
	}
	return fs
}

type severityAcc struct {
	selected int
	rated    int
	sum      int
	min, max int
}

func (a *severityAcc) add(severity *int) {
	a.selected++
	if severity == nil {
		return
	}
	sv := *severity
	if a.rated == 0 || sv < a.min {
		a.min = sv
	}
	if a.rated == 0 || sv > a.max {
		a.max = sv
	}
	a.rated++
	a.sum += sv
}

func (a *severityAcc) stats() (*int, *int, *float64) {
	if a.rated == 0 {
		return nil, nil, nil
	}
	mn, mx := a.min, a.max
	avg := float64(a.sum) / float64(a.rated)
	return &mn, &mx, &avg
}
