package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/schema"
)

const defaultTemperature = 0.2

// transcribePrompt is part one of the diarization instruction: raw
// transcription per distinct voice, with no assumptions about dialogue
// structure.
const transcribePrompt = `Transcribe the attached audio. Label each segment with a voice identifier (voice_1, voice_2, ...) for each distinct voice you hear. Do not assume any dialogue structure; transcribe exactly what each voice says, in order.`

// rolePrompt is part two: assign a clinical role to every distinct voice.
const rolePrompt = `Then, given your raw transcription, assign a role to each distinct voice: patient, clinician, nurse, or other. When only one voice is present, infer that it is the clinician dictating. Return two JSON arrays: first the transcription lines, then the voice-to-role assignments.`

// Option is a functional option for configuring a [Diarizer].
type Option func(*Diarizer)

// WithTemperature sets the sampling temperature for diarization requests.
// Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(d *Diarizer) {
		d.temperature = temp
	}
}

// Diarizer converts audio chunks into speaker-labelled transcript lines
// using a multimodal model backend. It is safe for concurrent use.
type Diarizer struct {
	provider    model.Provider
	temperature float64
}

// New returns a [Diarizer] backed by the given provider. The provider
// should support audio input; a text-only provider still produces a valid
// request but the backend will only see the instructions.
func New(provider model.Provider, opts ...Option) *Diarizer {
	d := &Diarizer{
		provider:    provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// rawLine is the first expected JSON block's element shape.
type rawLine struct {
	Voice string `json:"voice"`
	Text  string `json:"text"`
}

// roleEntry is the second expected JSON block's element shape.
type roleEntry struct {
	Voice string `json:"voice"`
	Role  string `json:"role"`
}

// Diarize submits chunks as one request and returns the ordered,
// role-labelled transcript lines.
//
// An empty chunk list still issues a valid request; whatever text-only
// transcription results is returned. Backend failures are returned with a
// nil line slice. When only one of the two expected JSON blocks is present
// the decoded lines (speakers left as raw voice ids where unresolved) are
// returned together with a [*PartialResponseError].
func (d *Diarizer) Diarize(ctx context.Context, chunks []model.AudioChunk) ([]Line, error) {
	req := model.Request{
		SystemPrompt: []string{transcribePrompt, rolePrompt},
		UserPrompt:   []string{"Transcribe and label the attached encounter audio."},
		Schemas:      []map[string]any{linesSchema(), rolesSchema()},
		Audio:        chunks,
		Temperature:  d.temperature,
	}

	resp, err := d.provider.Converse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transcript: diarize: %w", err)
	}

	if len(resp.Blocks) == 0 {
		// No content at all: nothing was transcribed, nothing changed.
		return nil, nil
	}

	lines, decodeErr := decodeLines(resp.Blocks[0])
	if decodeErr != nil {
		return nil, &PartialResponseError{Blocks: resp.Blocks}
	}

	if len(resp.Blocks) < 2 {
		return toLines(lines, nil), &PartialResponseError{Blocks: resp.Blocks}
	}

	roles, roleErr := decodeRoles(resp.Blocks[1])
	if roleErr != nil {
		return toLines(lines, nil), &PartialResponseError{Blocks: resp.Blocks}
	}

	return toLines(lines, roles), nil
}

// decodeLines parses the transcription block.
func decodeLines(block json.RawMessage) ([]rawLine, error) {
	var lines []rawLine
	if err := json.Unmarshal(block, &lines); err != nil {
		return nil, fmt.Errorf("transcript: decode lines: %w", err)
	}
	return lines, nil
}

// decodeRoles parses the role-mapping block. Models return it either as an
// array of {voice, role} entries or as a plain voice-to-role object; both
// forms are accepted.
func decodeRoles(block json.RawMessage) (map[string]string, error) {
	var entries []roleEntry
	if err := json.Unmarshal(block, &entries); err == nil {
		roles := make(map[string]string, len(entries))
		for _, e := range entries {
			roles[e.Voice] = e.Role
		}
		return roles, nil
	}

	var obj map[string]string
	if err := json.Unmarshal(block, &obj); err != nil {
		return nil, fmt.Errorf("transcript: decode role mapping: %w", err)
	}
	return obj, nil
}

// toLines resolves speakers from the role mapping by exact voice-id match,
// preserving transcription order. Unmapped voices pass through as their raw
// voice id.
func toLines(raw []rawLine, roles map[string]string) []Line {
	out := make([]Line, 0, len(raw))
	for _, l := range raw {
		speaker := l.Voice
		if role, ok := roles[l.Voice]; ok && role != "" {
			speaker = role
		}
		out = append(out, Line{Speaker: speaker, Text: l.Text})
	}
	return out
}

func linesSchema() map[string]any {
	return schema.Array("Raw transcription: one entry per utterance, in order.",
		schema.Object(map[string]any{
			"voice": schema.String("Voice identifier, e.g. voice_1."),
			"text":  schema.String("Verbatim utterance text."),
		}))
}

func rolesSchema() map[string]any {
	return schema.Array("Role assignment for each distinct voice.",
		schema.Object(map[string]any{
			"voice": schema.String("Voice identifier from the transcription."),
			"role": schema.Enum("Clinical role of this voice.",
				[]string{RolePatient, RoleClinician, RoleNurse, RoleOther}),
		}))
}
