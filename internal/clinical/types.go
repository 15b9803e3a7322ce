// Package clinical provides read-only access to the patient chart context
// consumed by the chartflow pipeline: active conditions, medications,
// allergies, demographics, and staged form definitions.
//
// The pipeline never reads the chart through ambient global state. Each
// engine invocation takes one immutable [Snapshot] and holds it fixed for
// the duration of that invocation, so capability availability and the
// instruction-kind enum stay consistent within a single pass and extraction
// calls remain reproducible in tests.
package clinical

import (
	"context"
	"time"

	"github.com/emberhealth/chartflow/internal/questionnaire"
)

// Condition is an active problem on the patient's chart.
type Condition struct {
	// ID is the host chart identifier for this condition.
	ID string

	// Name is the display name (e.g. "Type 2 diabetes mellitus").
	Name string

	// Onset is when the condition was recorded as starting. Zero when the
	// host chart does not track onset.
	Onset time.Time
}

// Medication is an active prescription or over-the-counter entry.
type Medication struct {
	// ID is the host chart identifier for this medication.
	ID string

	// Name is the display name including strength (e.g. "metformin 500 mg").
	Name string

	// Directions is the sig text, if any.
	Directions string
}

// Allergy is a recorded allergy or intolerance.
type Allergy struct {
	// ID is the host chart identifier for this allergy.
	ID string

	// Substance is the allergen display name.
	Substance string

	// Reaction is the recorded reaction text, if any.
	Reaction string
}

// Demographics holds the basic patient facts injected into prompts.
type Demographics struct {
	// Name is the patient's display name.
	Name string

	// BirthDate is the patient's date of birth. Zero when unknown.
	BirthDate time.Time

	// Sex is the chart-recorded sex, if any.
	Sex string
}

// Snapshot is one immutable view of the chart, taken once per pipeline
// invocation. Fields are never mutated after construction; callers that
// need a changed view take a new snapshot.
type Snapshot struct {
	// Demographics is the patient summary.
	Demographics Demographics

	// Conditions lists active conditions.
	Conditions []Condition

	// Medications lists active medications.
	Medications []Medication

	// Allergies lists recorded allergies.
	Allergies []Allergy

	// StagedForms lists form definitions staged on the encounter, keyed by
	// position. These seed questionnaire reconciliation state.
	StagedForms []questionnaire.Questionnaire
}

// Provider supplies chart snapshots. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Snapshot returns the current chart view. The returned value must not
	// alias mutable internal state.
	Snapshot(ctx context.Context) (Snapshot, error)
}
