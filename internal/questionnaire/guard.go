package questionnaire

import "fmt"

// Guard rule identifiers, recorded on [Correction] values so callers can
// log and count deterministic guard interventions. Guard violations are
// not errors — they are corrected silently and reported here.
const (
	RuleMonotonicConfirmation = "monotonic_confirmation"
	RuleNonRegression         = "non_regression"
	RuleDefaultFill           = "default_fill"
)

// Correction records one deterministic guard intervention on a proposed
// questionnaire update.
type Correction struct {
	// QuestionDBID identifies the affected item.
	QuestionDBID int

	// Rule is the guard rule that fired.
	Rule string

	// Detail is a human-readable account of what was corrected.
	Detail string
}

func (c Correction) String() string {
	return fmt.Sprintf("question %d: %s: %s", c.QuestionDBID, c.Rule, c.Detail)
}

// GuardOptions selects the capability-variant behaviour of the guard.
type GuardOptions struct {
	// IncludeSkipped controls whether the skipped flag participates in the
	// guard at all. The plain questionnaire variant opts out; the prior
	// item's skipped state is then carried through untouched.
	IncludeSkipped bool

	// TemplateDefaults maps question labels to capability-declared default
	// text for the default-fill rule. Nil disables default filling.
	TemplateDefaults map[string]string
}

// ApplyGuard merges a model-proposed questionnaire into the authoritative
// prior state. It is mandatory post-processing, not optional: an automated
// pass may newly confirm an item but must never un-confirm one, and must
// never erase previously captured findings.
//
// The result carries the prior questionnaire's items in their original
// number and order. For every item present in both forms (matched by
// dbid) the rules apply, in order: monotonic confirmation, null
// normalisation, non-regression of content, default fill. A prior item the
// proposal omits is kept unchanged; an item present only in the proposal
// passes through unchanged after the prior items — the guard only
// restrains revision of already-known items.
func ApplyGuard(prior, proposed Questionnaire, opts GuardOptions) (Questionnaire, []Correction) {
	proposedByDBID := make(map[int]Question, len(proposed.Questions))
	for _, q := range proposed.Questions {
		proposedByDBID[q.DBID] = q
	}

	out := prior.Clone()
	var corrections []Correction

	for i, priorQ := range prior.Questions {
		prop, ok := proposedByDBID[priorQ.DBID]
		if !ok {
			continue
		}
		merged, cs := guardQuestion(priorQ, prop, opts)
		out.Questions[i] = merged
		corrections = append(corrections, cs...)
	}

	priorDBIDs := make(map[int]bool, len(prior.Questions))
	for _, q := range prior.Questions {
		priorDBIDs[q.DBID] = true
	}
	for _, q := range proposed.Questions {
		if !priorDBIDs[q.DBID] {
			out.Questions = append(out.Questions, q)
		}
	}

	return out, corrections
}

// guardQuestion applies the four rules to one prior/proposed item pair.
func guardQuestion(prior, proposed Question, opts GuardOptions) (Question, []Correction) {
	var corrections []Correction
	merged := proposed
	merged.DBID = prior.DBID
	merged.Label = prior.Label
	merged.Type = prior.Type

	if opts.IncludeSkipped {
		// Rule 1: monotonic confirmation. A confirmed (non-skipped) item may
		// never be un-confirmed by an automated pass; revert the whole item.
		if prior.Skipped != nil && !*prior.Skipped &&
			proposed.Skipped != nil && *proposed.Skipped {
			reverted := cloneQuestion(prior)
			corrections = append(corrections, Correction{
				QuestionDBID: prior.DBID,
				Rule:         RuleMonotonicConfirmation,
				Detail:       "proposal tried to skip a confirmed item; prior state kept",
			})
			return normalizeSkipped(reverted), corrections
		}

		// Rule 2: null normalisation, after rule 1.
		merged = normalizeSkipped(merged)
	} else {
		// Plain variant: skipped does not participate; carry prior through.
		merged.Skipped = nil
		if prior.Skipped != nil {
			v := *prior.Skipped
			merged.Skipped = &v
		}
	}

	// Rule 3: response-slot identity and non-regression. The merged item
	// carries the prior's response slots in their original number and
	// order; a slot the proposal drops is restored from the prior, so a
	// thin proposal can never delete a captured finding. On matched
	// free-text and integer slots a captured value is never blanked.
	if len(prior.Responses) > 0 {
		propByDBID := make(map[int]Response, len(merged.Responses))
		for _, r := range merged.Responses {
			propByDBID[r.DBID] = r
		}

		rebuilt := make([]Response, 0, len(prior.Responses))
		for _, p := range prior.Responses {
			r, ok := propByDBID[p.DBID]
			if !ok {
				rebuilt = append(rebuilt, cloneResponse(p))
				if !isBlank(p.Value) {
					corrections = append(corrections, Correction{
						QuestionDBID: prior.DBID,
						Rule:         RuleNonRegression,
						Detail:       "proposal dropped a captured response slot; prior slot restored",
					})
				}
				continue
			}
			if (prior.Type == TypeFreeText || prior.Type == TypeInteger) &&
				!isBlank(p.Value) && isBlank(r.Value) {
				r.Value = p.Value
				corrections = append(corrections, Correction{
					QuestionDBID: prior.DBID,
					Rule:         RuleNonRegression,
					Detail:       "proposal blanked a captured value; prior value kept",
				})
			}
			rebuilt = append(rebuilt, r)
		}

		priorSlots := make(map[int]bool, len(prior.Responses))
		for _, p := range prior.Responses {
			priorSlots[p.DBID] = true
		}
		for _, r := range merged.Responses {
			if !priorSlots[r.DBID] {
				rebuilt = append(rebuilt, r)
			}
		}
		merged.Responses = rebuilt
	}

	// Rule 4: default fill when both prior and proposed text are blank and
	// the capability declares a template default for this item's label.
	if def, ok := opts.TemplateDefaults[prior.Label]; ok && def != "" {
		if isBlank(firstValue(prior)) && isBlank(firstValue(merged)) && len(merged.Responses) > 0 {
			merged.Responses[0].Value = def
			corrections = append(corrections, Correction{
				QuestionDBID: prior.DBID,
				Rule:         RuleDefaultFill,
				Detail:       "blank finding filled with template default",
			})
		}
	}

	return merged, corrections
}

// normalizeSkipped maps a nil skipped flag to false — undecided items are
// treated as enabled/relevant by default.
func normalizeSkipped(q Question) Question {
	if q.Skipped == nil {
		f := false
		q.Skipped = &f
	}
	return q
}
