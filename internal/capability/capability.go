// Package capability defines the registry of instruction kinds the
// chartflow pipeline can extract and act on.
//
// Each instruction kind is described by a [Descriptor]: a record of pure
// functions covering availability, description, parameter schema,
// constraints, and the builder that turns synthesized parameters into a
// host-side command. Dispatch is by registry lookup on the kind string, not
// inheritance.
//
// Availability is computed against an immutable [clinical.Snapshot] — a
// condition-update capability, for example, is only available when the
// chart has conditions. The engine evaluates availability once per
// invocation and holds the result fixed so the instruction-kind enum used
// for schema construction and the one used for dispatch cannot diverge
// within a pass.
package capability

import (
	"encoding/json"

	"github.com/emberhealth/chartflow/internal/clinical"
)

// HostCommand is the opaque product of a capability builder. The host
// platform defines concrete command types; this core only carries them
// back to the caller and never constructs or persists them itself.
type HostCommand interface {
	// CommandKind returns the instruction kind that produced this command.
	CommandKind() string
}

// Descriptor is the behaviour contract for one instruction kind.
//
// All function fields must be non-nil except Build, Constraints, and
// TemplateDefaults, which may be nil when the capability has no builder,
// no constraints, or no defaults. Function fields must be pure with
// respect to their arguments and safe for concurrent use.
type Descriptor struct {
	// Kind is the unique instruction-kind identifier (e.g.
	// "update_condition"). It appears verbatim in the extraction enum.
	Kind string

	// IsAvailable reports whether this capability may be offered as an
	// extraction target given the chart snapshot.
	IsAvailable func(snap clinical.Snapshot) bool

	// Describe returns the natural-language description of the capability
	// included in extraction prompts so the model knows what the kind means.
	Describe func() string

	// ParameterSchema returns the JSON Schema for this kind's synthesized
	// parameter payload.
	ParameterSchema func() map[string]any

	// Constraints returns constraint sentences for the self-correction pass
	// (e.g. "an update must reference one of the existing conditions: ...").
	// Empty or nil means this kind contributes nothing to the follow-up
	// request.
	Constraints func(snap clinical.Snapshot) []string

	// Build converts a synthesized parameter payload into a host command.
	// Returns nil when the payload is unusable. Nil Build means the kind is
	// extract-only.
	Build func(params json.RawMessage) HostCommand

	// Questionnaire marks kinds whose parameter payload is a full structured
	// form and therefore flows through reconciliation instead of plain
	// synthesis.
	Questionnaire bool

	// IncludeSkipped controls whether the skipped flag participates in the
	// questionnaire schema and the reconciliation guard. Only meaningful
	// when Questionnaire is true; the plain form variant opts out.
	IncludeSkipped bool

	// TemplateDefaults maps question labels to capability-declared default
	// text, used by the guard's default-fill rule when both prior and
	// proposed values are blank. Only meaningful when Questionnaire is true.
	TemplateDefaults map[string]string
}

// ConstraintsFor returns d's constraint list, tolerating a nil Constraints
// field.
func (d Descriptor) ConstraintsFor(snap clinical.Snapshot) []string {
	if d.Constraints == nil {
		return nil
	}
	return d.Constraints(snap)
}
