// Package app wires the chartflow stages into a per-encounter pipeline:
// diarization, instruction extraction, parameter synthesis, and
// questionnaire reconciliation, executed in strict temporal order per
// transcript increment.
//
// A stage failure stops only that stage's contribution for the increment;
// previously confirmed instructions and questionnaire state are never
// rolled back. Callers always receive the best available value plus a
// diagnostic list of degradations.
package app

import (
	"sync"

	"github.com/emberhealth/chartflow/internal/extract"
	"github.com/emberhealth/chartflow/internal/questionnaire"
	"github.com/emberhealth/chartflow/internal/transcript"
)

// Session accumulates the state of one encounter across increments: the
// append-only transcript, the living instruction list, and the reconciled
// questionnaire forms. It is safe for concurrent use, though increments
// must be processed one at a time because each depends on the previous
// one's output.
type Session struct {
	mu           sync.Mutex
	lines        []transcript.Line
	instructions []extract.Instruction
	forms        map[int]questionnaire.Questionnaire
	formOrder    []int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{forms: make(map[int]questionnaire.Questionnaire)}
}

// Lines returns a copy of the full accumulated transcript.
func (s *Session) Lines() []transcript.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Line(nil), s.lines...)
}

// Instructions returns a copy of the living instruction list.
func (s *Session) Instructions() []extract.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extract.Instruction(nil), s.instructions...)
}

// Forms returns copies of the session's questionnaire forms in staging
// order.
func (s *Session) Forms() []questionnaire.Questionnaire {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]questionnaire.Questionnaire, 0, len(s.formOrder))
	for _, dbid := range s.formOrder {
		out = append(out, s.forms[dbid].Clone())
	}
	return out
}

// seedForms registers staged forms not yet tracked by the session. Already
// tracked forms keep their reconciled state — the host snapshot only seeds,
// it never overwrites.
func (s *Session) seedForms(staged []questionnaire.Questionnaire) {
	for _, f := range staged {
		if _, ok := s.forms[f.DBID]; ok {
			continue
		}
		s.forms[f.DBID] = f.Clone()
		s.formOrder = append(s.formOrder, f.DBID)
	}
}
