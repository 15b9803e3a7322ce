package questionnaire_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/emberhealth/chartflow/internal/questionnaire"
	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/model/mock"
)

var sampleIncrement = []transcript.Line{
	{Speaker: transcript.RoleClinician, Text: "Heart sounds are normal, S1 S2, no murmurs."},
}

func proposalResponse(t *testing.T, q questionnaire.Questionnaire) *model.Response {
	t.Helper()
	enc, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("failed to encode proposal: %v", err)
	}
	return &model.Response{Blocks: []json.RawMessage{enc}, Status: 200}
}

func TestReconcile_AppliesProposalThroughGuard(t *testing.T) {
	t.Parallel()
	prior := examForm()
	proposal := examForm()
	proposal.Questions[1].Responses[0].Value = "S1 S2 normal, no murmurs."
	// The proposal also tries to skip the confirmed first item; the guard
	// must catch it.
	proposal.Questions[0].Skipped = boolPtr(true)

	p := &mock.Provider{Responses: []*model.Response{proposalResponse(t, proposal)}}
	r := questionnaire.NewReconciler(p)

	merged, corrections, err := r.Reconcile(context.Background(), prior, sampleIncrement,
		questionnaire.GuardOptions{IncludeSkipped: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := merged.Questions[1].Responses[0].Value; got != "S1 S2 normal, no murmurs." {
		t.Errorf("legitimate update should apply, got %q", got)
	}
	if merged.Questions[0].Skipped == nil || *merged.Questions[0].Skipped {
		t.Error("guard must keep the confirmed item unskipped")
	}
	if !hasRule(corrections, questionnaire.RuleMonotonicConfirmation, 1) {
		t.Errorf("expected the monotonic correction to be reported, got %+v", corrections)
	}
}

func TestReconcile_RequestShape(t *testing.T) {
	t.Parallel()
	prior := examForm()
	p := &mock.Provider{Responses: []*model.Response{{Status: 200}}}
	r := questionnaire.NewReconciler(p, questionnaire.WithTemperature(0.05))

	if _, _, err := r.Reconcile(context.Background(), prior, sampleIncrement,
		questionnaire.GuardOptions{IncludeSkipped: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := p.ConverseCalls[0].Req
	if len(req.UserPrompt) != 1 ||
		!strings.Contains(req.UserPrompt[0], "Physical Exam") ||
		!strings.Contains(req.UserPrompt[0], "no murmurs") {
		t.Errorf("user prompt should carry prior state and increment, got %q", req.UserPrompt)
	}
	if req.Temperature != 0.05 {
		t.Errorf("temperature: got %v, want 0.05", req.Temperature)
	}
	if len(req.Schemas) != 1 {
		t.Fatalf("schemas: got %d, want 1", len(req.Schemas))
	}
}

func TestReconcile_EmptyResponseIsNoOp(t *testing.T) {
	t.Parallel()
	prior := examForm()
	p := &mock.Provider{Responses: []*model.Response{{Status: 200}}}
	r := questionnaire.NewReconciler(p)

	merged, corrections, err := r.Reconcile(context.Background(), prior, sampleIncrement,
		questionnaire.GuardOptions{IncludeSkipped: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if corrections != nil {
		t.Errorf("corrections: got %+v, want nil", corrections)
	}

	a, _ := json.Marshal(prior)
	b, _ := json.Marshal(merged)
	if string(a) != string(b) {
		t.Errorf("prior must be returned untouched:\nprior:  %s\nmerged: %s", a, b)
	}
}

func TestReconcile_BackendFailureReturnsPrior(t *testing.T) {
	t.Parallel()
	prior := examForm()
	p := &mock.Provider{Err: &model.BackendError{Status: 502, Payload: "bad gateway"}}
	r := questionnaire.NewReconciler(p)

	merged, _, err := r.Reconcile(context.Background(), prior, sampleIncrement,
		questionnaire.GuardOptions{IncludeSkipped: true})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	a, _ := json.Marshal(prior)
	b, _ := json.Marshal(merged)
	if string(a) != string(b) {
		t.Error("prior must be returned untouched on backend failure")
	}
}

func TestReconcile_MalformedProposalIsNoOp(t *testing.T) {
	t.Parallel()
	prior := examForm()
	p := &mock.Provider{Responses: []*model.Response{{
		Blocks: []json.RawMessage{json.RawMessage(`{"questions":"not an array"}`)},
		Status: 200,
	}}}
	r := questionnaire.NewReconciler(p)

	merged, _, err := r.Reconcile(context.Background(), prior, sampleIncrement,
		questionnaire.GuardOptions{IncludeSkipped: true})
	if err != nil {
		t.Fatalf("malformed proposal should not be an error: %v", err)
	}

	a, _ := json.Marshal(prior)
	b, _ := json.Marshal(merged)
	if string(a) != string(b) {
		t.Error("prior must be returned untouched on malformed proposal")
	}
}

func TestSchema_SkippedParticipation(t *testing.T) {
	t.Parallel()
	prior := examForm()

	withSkipped := questionnaire.Schema(prior, true)
	withoutSkipped := questionnaire.Schema(prior, false)

	if !schemaHasQuestionProp(t, withSkipped, "skipped") {
		t.Error("exam variant schema should include the skipped flag")
	}
	if schemaHasQuestionProp(t, withoutSkipped, "skipped") {
		t.Error("plain variant schema should omit the skipped flag")
	}
}

func schemaHasQuestionProp(t *testing.T, s map[string]any, name string) bool {
	t.Helper()
	props, _ := s["properties"].(map[string]any)
	questions, _ := props["questions"].(map[string]any)
	items, _ := questions["items"].(map[string]any)
	qprops, _ := items["properties"].(map[string]any)
	_, ok := qprops[name]
	return ok
}
