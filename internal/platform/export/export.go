// Package export renders answer records as CSV against their pinned
// configuration and ships the result to an S3 bucket or a local file.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

// Record is one exportable answer record. Values holds the canonical
// stored JSON; the writer decodes it through the configuration it renders
// against, so callers must only pass records pinned to that configuration.
type Record struct {
	ID                   uuid.UUID
	SubjectID            string
	SubmittedBy          string
	SubmittedAt          time.Time
	ConfigurationVersion int
	Values               json.RawMessage
}

// Columns renders the CSV header for one configuration: fixed record
// columns, then one column per flat answer key in document order. Group
// options expand to field:option (and field:option:severity where rated);
// cascade fields expand to field:step.
func Columns(cfg *forms.Configuration) []string {
	cols := []string{"record_id", "subject_id", "submitted_by", "submitted_at", "configuration_version"}
	for _, ff := range cfg.FlatFields() {
		if !ff.Section.Enabled {
			continue
		}
		f := ff.Field
		switch {
		case f.Checkbox != nil:
			for _, opt := range f.Checkbox.Options {
				cols = append(cols, f.ID+":"+opt.Value)
				if opt.HasSeverity {
					cols = append(cols, f.ID+":"+opt.Value+":severity")
				}
			}
		case f.Cascade != nil:
			for _, step := range f.Cascade.Steps {
				cols = append(cols, f.ID+":"+step.ID)
			}
		default:
			cols = append(cols, f.ID)
		}
	}
	return cols
}

// WriteCSV streams the records as one CSV document: header row first, then
// one row per record in the order given. Unanswered cells are empty, never
// a zero value.
func WriteCSV(w io.Writer, registry *forms.Registry, cfg *forms.Configuration, recs []*Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(cfg)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, rec := range recs {
		vals, _, err := registry.DecodeValues(cfg, rec.Values)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if err := cw.Write(row(cfg, rec, vals)); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func row(cfg *forms.Configuration, rec *Record, vals forms.Values) []string {
	cells := []string{
		rec.ID.String(),
		rec.SubjectID,
		rec.SubmittedBy,
		rec.SubmittedAt.UTC().Format(time.RFC3339),
		strconv.Itoa(rec.ConfigurationVersion),
	}
	for _, ff := range cfg.FlatFields() {
		if !ff.Section.Enabled {
			continue
		}
		f := ff.Field
		v, answered := vals[f.ID]
		switch {
		case f.Checkbox != nil:
			for _, opt := range f.Checkbox.Options {
				sel, picked := v.Options[opt.Value]
				if answered && picked && sel.Selected {
					cells = append(cells, "true")
				} else {
					cells = append(cells, "")
				}
				if opt.HasSeverity {
					if answered && picked && sel.Severity != nil {
						cells = append(cells, strconv.Itoa(*sel.Severity))
					} else {
						cells = append(cells, "")
					}
				}
			}
		case f.Cascade != nil:
			for _, step := range f.Cascade.Steps {
				if answered {
					cells = append(cells, v.Steps[step.ID])
				} else {
					cells = append(cells, "")
				}
			}
		default:
			cells = append(cells, scalarCell(v, answered))
		}
	}
	return cells
}

func scalarCell(v forms.Value, answered bool) string {
	if !answered {
		return ""
	}
	switch {
	case v.Str != nil:
		return *v.Str
	case v.Num != nil:
		return strconv.FormatFloat(*v.Num, 'f', -1, 64)
	}
	return ""
}
