package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emberhealth/chartflow/internal/clinical"
	"github.com/emberhealth/chartflow/pkg/schema"
)

// Built-in reference descriptors. Host platforms typically register their
// own command-backed descriptors; these cover the common encounter kinds
// and serve as the canonical examples of the Descriptor contract.

// ConditionUpdateCommand is the host command produced by
// [ConditionUpdate].
type ConditionUpdateCommand struct {
	// Condition is the chart condition name the update refers to.
	Condition string `json:"condition"`

	// Narrative is the status narrative extracted from the visit.
	Narrative string `json:"narrative"`
}

// CommandKind implements HostCommand.
func (ConditionUpdateCommand) CommandKind() string { return "update_condition" }

// ConditionUpdate returns the descriptor for updating the status of an
// existing chart condition. It is only available when the chart has active
// conditions, and its constraint pins updates to that fixed list.
func ConditionUpdate() Descriptor {
	return Descriptor{
		Kind: "update_condition",
		IsAvailable: func(snap clinical.Snapshot) bool {
			return len(snap.Conditions) > 0
		},
		Describe: func() string {
			return "Update the status or narrative of a condition already on the patient's problem list."
		},
		ParameterSchema: func() map[string]any {
			return schema.Object(map[string]any{
				"condition": schema.String("Exact name of the existing condition being updated."),
				"narrative": schema.String("Status narrative for this condition, grounded in the visit."),
			})
		},
		Constraints: func(snap clinical.Snapshot) []string {
			if len(snap.Conditions) == 0 {
				return nil
			}
			names := make([]string, len(snap.Conditions))
			for i, c := range snap.Conditions {
				names[i] = c.Name
			}
			return []string{
				fmt.Sprintf("An update_condition instruction must reference one of the existing conditions: %s.",
					strings.Join(names, "; ")),
			}
		},
		Build: func(params json.RawMessage) HostCommand {
			var cmd ConditionUpdateCommand
			if err := json.Unmarshal(params, &cmd); err != nil || cmd.Condition == "" {
				return nil
			}
			return cmd
		},
	}
}

// MedicationStartCommand is the host command produced by
// [MedicationStart].
type MedicationStartCommand struct {
	// Medication is the drug name including strength when stated.
	Medication string `json:"medication"`

	// Directions is the dosing sig, when stated.
	Directions string `json:"directions"`

	// StartDate is the resolved start date in YYYY-MM-DD form, when stated.
	StartDate string `json:"start_date"`
}

// CommandKind implements HostCommand.
func (MedicationStartCommand) CommandKind() string { return "start_medication" }

// MedicationStart returns the descriptor for starting a new medication.
// Always available.
func MedicationStart() Descriptor {
	return Descriptor{
		Kind:        "start_medication",
		IsAvailable: func(clinical.Snapshot) bool { return true },
		Describe: func() string {
			return "Start a new medication discussed during the visit."
		},
		ParameterSchema: func() map[string]any {
			return schema.ObjectWith(map[string]any{
				"medication": schema.String("Drug name, including strength when stated."),
				"directions": schema.String("Dosing directions as stated, or empty when not discussed."),
				"start_date": schema.String("Start date in YYYY-MM-DD form, resolved against the current date; empty when not stated."),
			}, []string{"medication"})
		},
		Build: func(params json.RawMessage) HostCommand {
			var cmd MedicationStartCommand
			if err := json.Unmarshal(params, &cmd); err != nil || cmd.Medication == "" {
				return nil
			}
			return cmd
		},
	}
}

// examDefaults is the template default text for common physical exam
// sections, used by the guard's default-fill rule.
var examDefaults = map[string]string{
	"General":        "Alert, no acute distress.",
	"Cardiovascular": "Regular rate and rhythm, no murmurs.",
	"Respiratory":    "Clear to auscultation bilaterally.",
	"Abdomen":        "Soft, non-tender, non-distended.",
}

// ExamQuestionnaire returns the descriptor for the free-text exam form
// variant. The skipped flag participates in both the schema and the
// reconciliation guard, and blank findings fall back to template defaults.
// Available whenever the encounter has at least one staged form.
func ExamQuestionnaire() Descriptor {
	return Descriptor{
		Kind: "exam",
		IsAvailable: func(snap clinical.Snapshot) bool {
			return len(snap.StagedForms) > 0
		},
		Describe: func() string {
			return "Record physical exam findings on the staged exam form."
		},
		ParameterSchema: func() map[string]any {
			return schema.Object(map[string]any{
				"form": schema.String("Name of the staged form the findings belong to."),
			})
		},
		Questionnaire:    true,
		IncludeSkipped:   true,
		TemplateDefaults: examDefaults,
	}
}

// PlainQuestionnaire returns the descriptor for ordinary structured
// questionnaires. The skipped flag is excluded from the schema and the
// guard entirely. Available whenever the encounter has at least one staged
// form.
func PlainQuestionnaire() Descriptor {
	return Descriptor{
		Kind: "questionnaire",
		IsAvailable: func(snap clinical.Snapshot) bool {
			return len(snap.StagedForms) > 0
		},
		Describe: func() string {
			return "Fill in answers on a staged questionnaire form discussed during the visit."
		},
		ParameterSchema: func() map[string]any {
			return schema.Object(map[string]any{
				"form": schema.String("Name of the staged form being answered."),
			})
		},
		Questionnaire: true,
	}
}

// Builtin returns all built-in descriptors in canonical order.
func Builtin() []Descriptor {
	return []Descriptor{
		ConditionUpdate(),
		MedicationStart(),
		ExamQuestionnaire(),
		PlainQuestionnaire(),
	}
}
