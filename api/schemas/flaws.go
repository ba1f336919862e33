// File: api/schemas/flaws.go
package schemas

import (
	"time"
)

// -- Flaw --

// CustomField is one platform custom field attached to a flaw. Fields keep
// their declaration order in payloads; Key is the platform-side identifier.
type CustomField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Flaw is the consolidated, upload-ready unit sent to the reporting platform.
// A flaw represents either one categorized group of findings or exactly one
// uncategorized finding. Flaws are built fresh on every run and never mutated
// in place afterward; identity across runs is carried by FlawKey alone.
type Flaw struct {
	FlawKey string `json:"flaw_key"`

	Title    string   `json:"title"` // Scope prefix already applied.
	Severity Severity `json:"severity"`
	Scope    Scope    `json:"scope"`

	// Category is the resolved category name, empty for uncategorized flaws.
	// CheckID is set for uncategorized flaws only.
	Category string `json:"category,omitempty"`
	CheckID  string `json:"check_id,omitempty"`

	// WriteupDBID references the platform's long-form writeup record, when
	// the category carries one.
	WriteupDBID string `json:"writeup_db_id,omitempty"`

	Description     string   `json:"description"`
	Recommendations string   `json:"recommendations,omitempty"`
	References      []string `json:"references,omitempty"`

	AffectedAssets []Asset       `json:"affected_assets"`
	CustomFields   []CustomField `json:"custom_fields,omitempty"`
	Tags           []string      `json:"tags,omitempty"`

	// ScreenshotRef is the local path of the matched screenshot artifact,
	// empty when no artifact matched.
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
}

// -- Upload bookkeeping --

// UploadRecord is the persisted memory of one successfully uploaded flaw.
// Records are appended or overwritten per flaw key, never deleted
// automatically.
type UploadRecord struct {
	FlawKey     string `json:"flaw_key"`
	RemoteID    string `json:"remote_id"`
	Fingerprint string `json:"fingerprint"`
	// Canonical holds the canonical payload JSON the fingerprint was taken
	// over, kept so a later run can show what drifted. Empty in records
	// written by older ledgers.
	Canonical  string    `json:"canonical,omitempty"`
	Title      string    `json:"title"`
	Scope      Scope     `json:"scope"`
	UploadedAt time.Time `json:"uploaded_at"`
	RunID      string    `json:"run_id"`
}

// Disposition classifies what happened to one flaw during a run.
type Disposition string

// Constants for per-flaw run outcomes.
const (
	DispositionCreated   Disposition = "created"
	DispositionUpdated   Disposition = "updated"
	DispositionUnchanged Disposition = "unchanged"
	DispositionFailed    Disposition = "failed"
	// DispositionPlanned marks dry-run items that would have been written.
	DispositionPlanned Disposition = "planned"
)

// UploadOutcome records the final state of one flaw at the end of a run.
type UploadOutcome struct {
	FlawKey     string      `json:"flaw_key"`
	Title       string      `json:"title"`
	Disposition Disposition `json:"disposition"`
	RemoteID    string      `json:"remote_id,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunSummary aggregates everything the operator needs at the end of a run:
// counts, per-flaw outcomes, and every recovered error. Nothing recovered
// during the run is dropped from it.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Scope      Scope     `json:"scope"`
	DryRun     bool      `json:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	FilesLoaded   int `json:"files_loaded"`
	FindingsTotal int `json:"findings_total"`
	FlawsTotal    int `json:"flaws_total"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Planned   int `json:"planned,omitempty"` // Dry-run only.

	Outcomes  []UploadOutcome     `json:"outcomes,omitempty"`
	RowErrors []RowError          `json:"row_errors,omitempty"`
	Warnings  []ClassifierWarning `json:"classifier_warnings,omitempty"`
}

// CountOutcomes refreshes the disposition counters from the outcome list.
func (s *RunSummary) CountOutcomes() {
	s.Created, s.Updated, s.Unchanged, s.Failed, s.Planned = 0, 0, 0, 0, 0
	for _, o := range s.Outcomes {
		switch o.Disposition {
		case DispositionCreated:
			s.Created++
		case DispositionUpdated:
			s.Updated++
		case DispositionUnchanged:
			s.Unchanged++
		case DispositionFailed:
			s.Failed++
		case DispositionPlanned:
			s.Planned++
		}
	}
}

// Ok reports whether the run finished without any failure worth a non-zero
// exit code.
func (s RunSummary) Ok() bool {
	return s.Failed == 0
}

// FailedKeys lists the flaw keys that exhausted their retries, for the
// operator-facing failure summary.
func (s RunSummary) FailedKeys() []string {
	keys := make([]string, 0, s.Failed)
	for _, o := range s.Outcomes {
		if o.Disposition == DispositionFailed {
			keys = append(keys, o.FlawKey)
		}
	}
	return keys
}
