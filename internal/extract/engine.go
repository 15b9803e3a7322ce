package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/emberhealth/chartflow/internal/capability"
	"github.com/emberhealth/chartflow/internal/clinical"
	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/schema"
)

const defaultTemperature = 0.2

// systemPrompt states the extraction contract: relevance filtering,
// verbatim grounding, and uuid continuity for prior instructions.
const systemPrompt = `You extract structured instructions from a clinical visit transcript.

Rules:
- Ignore transcript segments with no discernible clinical relevance.
- Ground every "information" string in the transcript. Do not embellish and do not omit stated facts.
- When previously known instructions are supplied, include each of them in your output verbatim with its original uuid. Only change an instruction's information where new evidence from this increment warrants it. Never invent a new uuid for an instruction whose substance already exists in the prior list.
- Set is_new to true only for instructions appearing for the first time. Set is_updated to true only when a previously known instruction's information changed.
- Only use the instruction kinds listed below.`

// correctionPrompt drives the single bounded self-correction pass.
const correctionPrompt = `Review your previous instruction extraction against the constraints below. If the JSON already satisfies every constraint, return it unchanged. Otherwise return a corrected version in the same format. Return only the JSON array.`

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTemperature sets the sampling temperature for extraction requests.
// Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Engine) {
		e.temperature = temp
	}
}

// Engine performs incremental instruction extraction. It is safe for
// concurrent use, though callers must serialise passes over the same
// session because each pass depends on the prior instruction list.
type Engine struct {
	provider    model.Provider
	registry    *capability.Registry
	temperature float64
}

// NewEngine returns an [Engine] backed by the given provider and
// capability registry.
func NewEngine(provider model.Provider, registry *capability.Registry, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		registry:    registry,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract processes a transcript increment against the previously known
// instruction list and returns the updated list.
//
// Capability availability is taken from snap exactly once for this pass;
// the resulting kind enum is used for both the response schema and the
// self-correction dispatch. With no available capability, no request is
// issued and the prior list is returned unchanged.
//
// On backend failure or schema-non-conformant output the prior list is
// returned unchanged together with the typed error, so callers always hold
// the best available value.
func (e *Engine) Extract(
	ctx context.Context,
	snap clinical.Snapshot,
	increment []transcript.Line,
	prior []Instruction,
) ([]Instruction, error) {
	available := e.registry.Available(snap)
	if len(available) == 0 {
		return clone(prior), nil
	}
	kinds := capability.Kinds(available)

	req := model.Request{
		SystemPrompt: []string{systemPrompt, describeKinds(available)},
		UserPrompt:   []string{formatUserPrompt(increment, prior)},
		Schemas:      []map[string]any{instructionsSchema(kinds)},
		Temperature:  e.temperature,
	}

	resp, err := e.provider.Converse(ctx, req)
	if err != nil {
		return clone(prior), fmt.Errorf("extract: %w", err)
	}
	if len(resp.Blocks) == 0 {
		// No content: nothing changed this increment.
		return clone(prior), nil
	}

	items, decodeErr := decodeInstructions(resp.Blocks[0])
	if decodeErr != nil {
		return clone(prior), &MalformedOutputError{Blocks: resp.Blocks}
	}

	// Single bounded self-correction pass: when any capability matching a
	// detected kind declares constraints, re-submit the first response with
	// the bulleted constraint list and accept the second response
	// unconditionally as final. Deliberately not an iterative loop.
	constraints := e.collectConstraints(snap, available, items)
	if len(constraints) > 0 {
		corrected, corrErr := e.correct(ctx, resp.Blocks[0], constraints, kinds)
		if corrErr != nil {
			return clone(prior), corrErr
		}
		if corrected != nil {
			items = corrected
		}
	}

	return e.merge(prior, items, kinds), nil
}

// correct issues the follow-up request. A nil, nil return means the model
// produced no content and the first response stands.
func (e *Engine) correct(
	ctx context.Context,
	firstResponse json.RawMessage,
	constraints []string,
	kinds []string,
) ([]Instruction, error) {
	var sb strings.Builder
	sb.WriteString("Previous extraction:\n")
	sb.Write(firstResponse)
	sb.WriteString("\n\nConstraints:\n")
	for _, c := range constraints {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteByte('\n')
	}

	req := model.Request{
		SystemPrompt: []string{correctionPrompt},
		UserPrompt:   []string{sb.String()},
		Schemas:      []map[string]any{instructionsSchema(kinds)},
		Temperature:  e.temperature,
	}

	resp, err := e.provider.Converse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract: correction pass: %w", err)
	}
	if len(resp.Blocks) == 0 {
		return nil, nil
	}
	items, decodeErr := decodeInstructions(resp.Blocks[0])
	if decodeErr != nil {
		return nil, &MalformedOutputError{Blocks: resp.Blocks}
	}
	return items, nil
}

// collectConstraints gathers constraint sentences from every available
// capability whose kind appears among the detected items, preserving
// registry order and deduplicating kinds.
func (e *Engine) collectConstraints(
	snap clinical.Snapshot,
	available []capability.Descriptor,
	items []Instruction,
) []string {
	detected := make(map[string]bool, len(items))
	for _, it := range items {
		detected[it.Kind] = true
	}

	var constraints []string
	for _, d := range available {
		if !detected[d.Kind] {
			continue
		}
		for _, c := range d.ConstraintsFor(snap) {
			if c != "" {
				constraints = append(constraints, c)
			}
		}
	}
	return constraints
}

// merge normalises the model's items against the prior list: kinds outside
// the pass's enum are dropped, missing uuids on genuinely new items are
// minted, and is_new/is_updated are recomputed deterministically rather
// than trusted from the model.
func (e *Engine) merge(prior, items []Instruction, kinds []string) []Instruction {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	priorByUUID := make(map[string]Instruction, len(prior))
	for _, p := range prior {
		priorByUUID[p.UUID] = p
	}

	out := make([]Instruction, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !allowed[it.Kind] {
			slog.Warn("extract: dropping instruction with unavailable kind",
				slog.String("kind", it.Kind), slog.String("uuid", it.UUID))
			continue
		}
		if it.UUID == "" {
			it.UUID = uuid.NewString()
		}
		if seen[it.UUID] {
			// One instruction per uuid; the latest revision wins, with the
			// flags recomputed the same way as the first occurrence.
			for i := range out {
				if out[i].UUID != it.UUID || out[i].Information == it.Information {
					continue
				}
				out[i].Information = it.Information
				if p, known := priorByUUID[it.UUID]; known {
					out[i].IsUpdated = it.Information != p.Information
				}
			}
			continue
		}
		seen[it.UUID] = true

		if p, known := priorByUUID[it.UUID]; known {
			it.IsNew = false
			it.IsUpdated = it.Information != p.Information
		} else {
			it.IsNew = true
			it.IsUpdated = false
		}
		out = append(out, it)
	}
	return out
}

// decodeInstructions parses a JSON block into instructions. A top-level
// object with an "instructions" array is tolerated alongside the plain
// array form.
func decodeInstructions(block json.RawMessage) ([]Instruction, error) {
	var items []Instruction
	if err := json.Unmarshal(block, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Instructions []Instruction `json:"instructions"`
	}
	if err := json.Unmarshal(block, &wrapped); err != nil || wrapped.Instructions == nil {
		return nil, fmt.Errorf("extract: decode instructions: unexpected shape")
	}
	return wrapped.Instructions, nil
}

// describeKinds renders the available capabilities as a prompt section.
func describeKinds(available []capability.Descriptor) string {
	var sb strings.Builder
	sb.WriteString("Available instruction kinds:\n")
	for _, d := range available {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Kind, d.Describe())
	}
	return sb.String()
}

// formatUserPrompt renders the transcript increment and, when present, the
// previously known instructions as the user message.
func formatUserPrompt(increment []transcript.Line, prior []Instruction) string {
	var sb strings.Builder
	sb.WriteString("Transcript increment:\n")
	for _, l := range increment {
		fmt.Fprintf(&sb, "[%s]: %s\n", l.Speaker, l.Text)
	}
	if len(prior) > 0 {
		sb.WriteString("\nPreviously known instructions:\n")
		enc, _ := json.MarshalIndent(prior, "", "  ")
		sb.Write(enc)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// instructionsSchema builds the response schema with the kind enum
// restricted to the pass's available kinds.
func instructionsSchema(kinds []string) map[string]any {
	return schema.Array("Updated instruction list for this increment.",
		schema.Object(map[string]any{
			"uuid":        schema.String("Stable instruction identity. Reuse the original uuid for known instructions; leave empty for new ones."),
			"kind":        schema.Enum("Instruction kind.", kinds),
			"information": schema.String("Clinically relevant information grounded in the transcript."),
			"is_new":      schema.Boolean("True only the first time this uuid appears."),
			"is_updated":  schema.Boolean("True when a previously known instruction's information changed."),
		}))
}

func clone(items []Instruction) []Instruction {
	return append([]Instruction(nil), items...)
}
