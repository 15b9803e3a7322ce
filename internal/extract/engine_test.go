package extract_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/emberhealth/chartflow/internal/capability"
	"github.com/emberhealth/chartflow/internal/clinical"
	"github.com/emberhealth/chartflow/internal/extract"
	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/model/mock"
	"github.com/emberhealth/chartflow/pkg/schema"
)

// testDescriptor builds a minimal always-available descriptor for kind.
func testDescriptor(kind string, constraints []string) capability.Descriptor {
	return capability.Descriptor{
		Kind:        kind,
		IsAvailable: func(clinical.Snapshot) bool { return true },
		Describe:    func() string { return "test capability " + kind },
		ParameterSchema: func() map[string]any {
			return schema.Object(map[string]any{"value": schema.String("test value")})
		},
		Constraints: func(clinical.Snapshot) []string { return constraints },
	}
}

func newRegistry(t *testing.T, descs ...capability.Descriptor) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

func respWith(t *testing.T, raw string) *model.Response {
	t.Helper()
	if !json.Valid([]byte(raw)) {
		t.Fatalf("invalid test JSON: %s", raw)
	}
	return &model.Response{Blocks: []json.RawMessage{json.RawMessage(raw)}, Status: 200}
}

var sampleLines = []transcript.Line{
	{Speaker: transcript.RoleClinician, Text: "Let's start you on metformin 500 mg twice daily."},
}

func TestExtract_NoAvailableCapability(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	unavailable := testDescriptor("never", nil)
	unavailable.IsAvailable = func(clinical.Snapshot) bool { return false }
	reg := newRegistry(t, unavailable)

	prior := []extract.Instruction{{UUID: "u1", Kind: "never", Information: "old"}}
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.ConverseCalls) != 0 {
		t.Errorf("no request should be issued, got %d calls", len(p.ConverseCalls))
	}
	if len(got) != 1 || got[0].UUID != "u1" {
		t.Errorf("prior list should be returned unchanged, got %+v", got)
	}
}

func TestExtract_NewInstruction(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"","kind":"start_medication","information":"start metformin 500 mg BID","is_new":false,"is_updated":true}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("instruction count: got %d, want 1", len(got))
	}
	if got[0].UUID == "" {
		t.Error("blank uuid should be minted")
	}
	if !got[0].IsNew {
		t.Error("is_new should be recomputed to true for an unseen instruction")
	}
	if got[0].IsUpdated {
		t.Error("is_updated should be recomputed to false for a new instruction")
	}
}

func TestExtract_UUIDStability(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"start metformin 500 mg BID, with meals","is_new":true,"is_updated":false}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "start metformin 500 mg BID", IsNew: true}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "u1" {
		t.Fatalf("uuid must be preserved, got %+v", got)
	}
	if got[0].IsNew {
		t.Error("is_new must be false for a previously known uuid")
	}
	if !got[0].IsUpdated {
		t.Error("is_updated must be true when information changed")
	}
}

func TestExtract_UnchangedInstructionNotFlagged(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"same text","is_new":false,"is_updated":true}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "same text"}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].IsUpdated {
		t.Error("is_updated must be false when information is identical, regardless of model output")
	}
}

func TestExtract_DuplicateUUIDIdenticalInfoNotFlagged(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"same text","is_new":false,"is_updated":false},
		  {"uuid":"u1","kind":"start_medication","information":"same text","is_new":false,"is_updated":true}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "same text"}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicates must collapse, got %d instructions", len(got))
	}
	if got[0].IsUpdated {
		t.Error("a repeated identical item must not be flagged as updated")
	}
}

func TestExtract_DuplicateUUIDRevisionWins(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"old text","is_new":false,"is_updated":false},
		  {"uuid":"u1","kind":"start_medication","information":"revised text","is_new":false,"is_updated":false}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "old text"}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicates must collapse, got %d instructions", len(got))
	}
	if got[0].Information != "revised text" {
		t.Errorf("latest revision must win, got %q", got[0].Information)
	}
	if !got[0].IsUpdated {
		t.Error("a revision against the prior must be flagged as updated")
	}
}

func TestExtract_DropsUnavailableKind(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"ok","is_new":true,"is_updated":false},
		  {"uuid":"u2","kind":"order_imaging","information":"sneaky","is_new":true,"is_updated":false}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("instruction count: got %d, want 1", len(got))
	}
	if got[0].Kind != "start_medication" {
		t.Errorf("surviving kind: got %q, want start_medication", got[0].Kind)
	}
}

func TestExtract_CorrectionPass(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{
		respWith(t, `[{"uuid":"u1","kind":"update_condition","information":"hypertension worsening","is_new":true,"is_updated":false}]`),
		respWith(t, `[{"uuid":"u1","kind":"update_condition","information":"essential hypertension worsening","is_new":true,"is_updated":false}]`),
	}}
	reg := newRegistry(t, testDescriptor("update_condition",
		[]string{"An update must reference one of: essential hypertension."}))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.ConverseCalls) != 2 {
		t.Fatalf("converse calls: got %d, want 2 (extraction + correction)", len(p.ConverseCalls))
	}
	second := p.ConverseCalls[1].Req
	if len(second.UserPrompt) != 1 ||
		!containsAll(second.UserPrompt[0], "hypertension worsening", "essential hypertension") {
		t.Errorf("correction request should carry the first response and the constraint, got %q", second.UserPrompt)
	}
	if got[0].Information != "essential hypertension worsening" {
		t.Errorf("corrected information: got %q", got[0].Information)
	}
}

func TestExtract_CorrectionPassRunsOnce(t *testing.T) {
	t.Parallel()
	// Second response still "violates" the constraint; it must be accepted
	// as final with no third request.
	p := &mock.Provider{Responses: []*model.Response{
		respWith(t, `[{"uuid":"u1","kind":"update_condition","information":"bad","is_new":true,"is_updated":false}]`),
		respWith(t, `[{"uuid":"u1","kind":"update_condition","information":"still bad","is_new":true,"is_updated":false}]`),
	}}
	reg := newRegistry(t, testDescriptor("update_condition", []string{"must be good"}))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.ConverseCalls) != 2 {
		t.Fatalf("converse calls: got %d, want exactly 2", len(p.ConverseCalls))
	}
	if got[0].Information != "still bad" {
		t.Errorf("second response must stand unconditionally, got %q", got[0].Information)
	}
}

func TestExtract_EmptyCorrectionKeepsFirst(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{
		respWith(t, `[{"uuid":"u1","kind":"update_condition","information":"first answer","is_new":true,"is_updated":false}]`),
		{Status: 200},
	}}
	reg := newRegistry(t, testDescriptor("update_condition", []string{"constraint"}))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Information != "first answer" {
		t.Errorf("first response should stand when correction is empty, got %+v", got)
	}
}

func TestExtract_NoConstraintsSkipsCorrection(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`[{"uuid":"u1","kind":"start_medication","information":"x","is_new":true,"is_updated":false}]`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	if _, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.ConverseCalls) != 1 {
		t.Errorf("converse calls: got %d, want 1", len(p.ConverseCalls))
	}
}

func TestExtract_MalformedOutput(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t, `{"unexpected":"shape"}`)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "keep me"}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)

	var malformed *extract.MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedOutputError, got: %v", err)
	}
	if len(got) != 1 || got[0].Information != "keep me" {
		t.Errorf("prior list must be returned unchanged, got %+v", got)
	}
}

func TestExtract_BackendErrorReturnsPrior(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Err: &model.BackendError{Status: 500, Payload: "boom"}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	prior := []extract.Instruction{{UUID: "u1", Kind: "start_medication", Information: "keep me"}}
	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, prior)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(got) != 1 || got[0].UUID != "u1" {
		t.Errorf("prior list must be returned unchanged, got %+v", got)
	}
}

func TestExtract_WrappedInstructionsObject(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []*model.Response{respWith(t,
		`{"instructions":[{"uuid":"u1","kind":"start_medication","information":"x","is_new":true,"is_updated":false}]}`,
	)}}
	reg := newRegistry(t, testDescriptor("start_medication", nil))
	e := extract.NewEngine(p, reg)

	got, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "u1" {
		t.Errorf("wrapped object form should be tolerated, got %+v", got)
	}
}

func TestExtract_SchemaEnumMatchesAvailableKinds(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	reg := newRegistry(t,
		testDescriptor("start_medication", nil),
		testDescriptor("update_condition", nil),
	)
	e := extract.NewEngine(p, reg)

	if _, err := e.Extract(context.Background(), clinical.Snapshot{}, sampleLines, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := p.ConverseCalls[0].Req
	if len(req.Schemas) != 1 {
		t.Fatalf("schemas: got %d, want 1", len(req.Schemas))
	}
	items, _ := req.Schemas[0]["items"].(map[string]any)
	props, _ := items["properties"].(map[string]any)
	kind, _ := props["kind"].(map[string]any)
	enum, _ := kind["enum"].([]string)
	if len(enum) != 2 || enum[0] != "start_medication" || enum[1] != "update_condition" {
		t.Errorf("kind enum: got %v, want [start_medication update_condition]", enum)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
