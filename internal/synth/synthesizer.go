// Package synth implements per-instruction command parameter synthesis.
//
// For each extracted instruction, the [Synthesizer] locates the capability
// matching the instruction's kind and asks the model to populate that
// capability's parameter schema strictly from the instruction's grounding
// text. The current wall-clock time is injected into the system context so
// date-relative language ("since last Tuesday", "starting tomorrow")
// resolves deterministically.
//
// Synthesis is embarrassingly parallel across distinct instructions; the
// [Pool] runs calls concurrently under a fixed worker limit with
// per-instruction failure isolation.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberhealth/chartflow/internal/capability"
	"github.com/emberhealth/chartflow/internal/extract"
	"github.com/emberhealth/chartflow/pkg/model"
)

const defaultTemperature = 0.1

// systemPrompt states the synthesis contract: schema-strict population and
// a ban on fabricating details absent from the grounding text.
const systemPrompt = `You populate a structured command parameter object from the clinical information provided.

Rules:
- Fill fields strictly from the provided information. Do not fabricate details that are not stated, unless the schema for a field explicitly says otherwise.
- Leave optional fields empty when the information does not mention them.
- Resolve date-relative language against the current date given below.`

// Option is a functional option for configuring a [Synthesizer].
type Option func(*Synthesizer)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(s *Synthesizer) {
		s.temperature = temp
	}
}

// WithClock overrides the wall-clock source. Tests use this to make
// date-relative prompts reproducible.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		s.now = now
	}
}

// Synthesizer produces parameter payloads for single instructions. It is
// safe for concurrent use.
type Synthesizer struct {
	provider    model.Provider
	registry    *capability.Registry
	temperature float64
	now         func() time.Time
}

// New returns a [Synthesizer] backed by the given provider and registry.
func New(provider model.Provider, registry *capability.Registry, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider:    provider,
		registry:    registry,
		temperature: defaultTemperature,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize populates the parameter schema of the capability matching
// inst.Kind from inst.Information.
//
// A missing capability is a no-op: (nil, nil). An empty model response,
// a caller-level timeout, and an abandoned in-flight call all yield nil
// parameters; the error, when non-nil, is diagnostic only and never
// implies partial output.
func (s *Synthesizer) Synthesize(ctx context.Context, inst extract.Instruction) (json.RawMessage, error) {
	desc, ok := s.registry.Get(inst.Kind)
	if !ok {
		return nil, nil
	}

	req := model.Request{
		SystemPrompt: []string{
			systemPrompt,
			fmt.Sprintf("Current date and time: %s", s.now().Format(time.RFC1123)),
			fmt.Sprintf("Command: %s", desc.Describe()),
		},
		UserPrompt:  []string{inst.Information},
		Schemas:     []map[string]any{desc.ParameterSchema()},
		Temperature: s.temperature,
	}

	resp, err := s.provider.Converse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synth: %s: %w", inst.Kind, err)
	}
	if len(resp.Blocks) == 0 {
		return nil, nil
	}
	return resp.Blocks[0], nil
}
