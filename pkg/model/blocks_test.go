package model_test

import (
	"testing"

	"github.com/emberhealth/chartflow/pkg/model"
)

func TestStripFences(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := model.StripFences(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseBlocks_TwoValues(t *testing.T) {
	t.Parallel()
	text := `Here is the transcription:
[{"voice":"voice_1","text":"hello"}]
And the role mapping:
[{"voice":"voice_1","role":"clinician"}]`

	blocks := model.ParseBlocks(text)
	if len(blocks) != 2 {
		t.Fatalf("block count: got %d, want 2", len(blocks))
	}
	if string(blocks[0]) != `[{"voice":"voice_1","text":"hello"}]` {
		t.Errorf("first block: got %s", blocks[0])
	}
	if string(blocks[1]) != `[{"voice":"voice_1","role":"clinician"}]` {
		t.Errorf("second block: got %s", blocks[1])
	}
}

func TestParseBlocks_FencedSingleObject(t *testing.T) {
	t.Parallel()
	blocks := model.ParseBlocks("```json\n{\"uuid\":\"u1\"}\n```")
	if len(blocks) != 1 || string(blocks[0]) != `{"uuid":"u1"}` {
		t.Errorf("blocks: got %v", blocks)
	}
}

func TestParseBlocks_NoJSON(t *testing.T) {
	t.Parallel()
	if blocks := model.ParseBlocks("no structured content here"); blocks != nil {
		t.Errorf("blocks: got %v, want nil", blocks)
	}
}

func TestParseBlocks_SkipsStrayBraces(t *testing.T) {
	t.Parallel()
	blocks := model.ParseBlocks(`the set {a, b} is not JSON but {"k":"v"} is`)
	if len(blocks) != 1 || string(blocks[0]) != `{"k":"v"}` {
		t.Errorf("blocks: got %v", blocks)
	}
}

func TestBackendError_Messages(t *testing.T) {
	t.Parallel()
	withStatus := &model.BackendError{Status: 503, Payload: "overloaded"}
	if got := withStatus.Error(); got != "model: backend returned status 503: overloaded" {
		t.Errorf("got %q", got)
	}
	unreachable := &model.BackendError{Payload: "dial tcp: refused"}
	if got := unreachable.Error(); got != "model: backend unreachable: dial tcp: refused" {
		t.Errorf("got %q", got)
	}
}
