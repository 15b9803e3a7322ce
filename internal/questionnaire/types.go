// Package questionnaire provides the structured form model and the
// state-preserving reconciliation stage of the chartflow pipeline.
//
// A [Questionnaire] is created once from a host-side staged form snapshot
// and mutated in place by [Reconciler.Reconcile] on every relevant
// transcript increment. The model proposes a full updated form; a
// deterministic guard then merges the proposal into the authoritative prior
// state so that an automated pass can newly confirm an item but can never
// un-confirm one, and can never erase previously captured findings.
//
// Identity is by dbid. dbid values originate from the host form definition
// and are never reassigned by this package.
package questionnaire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QuestionType classifies how a question is answered.
type QuestionType string

const (
	// TypeFreeText is a single free-text response.
	TypeFreeText QuestionType = "free_text"

	// TypeInteger is a single numeric response.
	TypeInteger QuestionType = "integer"

	// TypeSingleChoice selects exactly one of the declared responses.
	TypeSingleChoice QuestionType = "single_choice"

	// TypeMultipleChoice selects any number of the declared responses.
	TypeMultipleChoice QuestionType = "multiple_choice"
)

// IsValid reports whether t is a recognised question type.
func (t QuestionType) IsValid() bool {
	switch t {
	case TypeFreeText, TypeInteger, TypeSingleChoice, TypeMultipleChoice:
		return true
	}
	return false
}

// Response is one answer slot within a question.
type Response struct {
	// DBID identifies this response slot in the host form definition.
	DBID int `json:"dbid"`

	// Value is the response content. Integer questions carry the number in
	// decimal form; see [Response.UnmarshalJSON].
	Value string `json:"value"`

	// Selected reports whether this response is chosen. Only meaningful for
	// choice-type questions.
	Selected bool `json:"selected"`

	// Comment is an optional free-text annotation. Nil means no comment.
	Comment *string `json:"comment"`
}

// UnmarshalJSON accepts both string and numeric values for the "value"
// field. Model backends routinely return integers unquoted even when the
// schema declares a string; both forms normalise to the decimal string.
func (r *Response) UnmarshalJSON(data []byte) error {
	type alias struct {
		DBID     int             `json:"dbid"`
		Value    json.RawMessage `json:"value"`
		Selected bool            `json:"selected"`
		Comment  *string         `json:"comment"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.DBID = a.DBID
	r.Selected = a.Selected
	r.Comment = a.Comment
	r.Value = ""

	if len(a.Value) == 0 || string(a.Value) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		r.Value = s
		return nil
	}
	var n float64
	if err := json.Unmarshal(a.Value, &n); err == nil {
		if n == float64(int64(n)) {
			r.Value = strconv.FormatInt(int64(n), 10)
		} else {
			r.Value = strconv.FormatFloat(n, 'f', -1, 64)
		}
		return nil
	}
	return fmt.Errorf("questionnaire: response %d: value is neither string nor number", a.DBID)
}

// Question is one item of a questionnaire.
type Question struct {
	// DBID identifies this question in the host form definition.
	DBID int `json:"dbid"`

	// Label is the question text shown to the clinician.
	Label string `json:"label"`

	// Type classifies how the question is answered.
	Type QuestionType `json:"type"`

	// Skipped reports whether the item was marked not applicable. Nil means
	// undecided; the guard normalises nil to false after the monotonic
	// confirmation rule has been applied.
	Skipped *bool `json:"skipped"`

	// Responses is the ordered list of answer slots.
	Responses []Response `json:"responses"`
}

// Questionnaire is a multi-item structured form.
type Questionnaire struct {
	// Name is the form's display name (e.g. "Review of Systems").
	Name string `json:"name"`

	// DBID identifies the form in the host system.
	DBID int `json:"dbid"`

	// Questions is the ordered item list. Reconciliation never adds or
	// removes items, only adjusts skipped state and response content.
	Questions []Question `json:"questions"`
}

// Clone returns a deep copy of q. Reconciliation works on copies so a
// failed pass can never leave the authoritative form half-applied.
func (q Questionnaire) Clone() Questionnaire {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, item := range q.Questions {
		out.Questions[i] = cloneQuestion(item)
	}
	return out
}

// cloneQuestion deep-copies one item so the result shares no pointer or
// slice storage with the input.
func cloneQuestion(q Question) Question {
	cp := q
	if q.Skipped != nil {
		v := *q.Skipped
		cp.Skipped = &v
	}
	cp.Responses = make([]Response, len(q.Responses))
	for j, r := range q.Responses {
		cp.Responses[j] = cloneResponse(r)
	}
	return cp
}

// cloneResponse copies one answer slot, including its comment pointer.
func cloneResponse(r Response) Response {
	cp := r
	if r.Comment != nil {
		c := *r.Comment
		cp.Comment = &c
	}
	return cp
}

// firstValue returns the value of the first response slot, or "" when the
// question has no responses. Free-text and integer questions hold their
// content in the first slot.
func firstValue(q Question) string {
	if len(q.Responses) == 0 {
		return ""
	}
	return q.Responses[0].Value
}

// isBlank reports whether s is empty or whitespace-only.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
