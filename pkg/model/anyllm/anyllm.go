// Package anyllm provides a universal model provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Audio input is not part of the unified interface, so this adapter is
// text-only; response schemas are embedded in the prompt rather than
// enforced by the vendor.
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/emberhealth/chartflow/pkg/model"
)

// Provider implements model.Provider by wrapping any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq".
//
// opts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend
// falls back to the relevant environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, and so on).
func New(providerName string, modelName string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if modelName == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: modelName}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Converse implements model.Provider.
func (p *Provider) Converse(ctx context.Context, req model.Request) (*model.Response, error) {
	if len(req.Audio) > 0 {
		return nil, fmt.Errorf("anyllm: audio input is not supported")
	}

	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, &model.BackendError{Payload: truncate(err.Error(), 2048)}
	}
	if len(resp.Choices) == 0 {
		return &model.Response{Status: 200}, nil
	}

	content := resp.Choices[0].Message.ContentString()
	return &model.Response{
		Blocks: model.ParseBlocks(content),
		Status: 200,
	}, nil
}

// Capabilities implements model.Provider. The unified interface is
// text-only and cannot enforce response schemas natively.
func (p *Provider) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsAudio:      false,
		SupportsJSONSchema: false,
	}
}

// buildParams converts a model.Request into anyllm CompletionParams. All
// schemas are embedded in a system message since the unified interface has
// no structured-output parameter.
func (p *Provider) buildParams(req model.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	for _, s := range req.SystemPrompt {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: s,
		})
	}

	if len(req.Schemas) > 0 {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: schemaInstruction(req.Schemas),
		})
	}

	for _, u := range req.UserPrompt {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleUser,
			Content: u,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}

	return params
}

// schemaInstruction renders a prompt section demanding one JSON value per
// schema, in order, with no surrounding prose.
func schemaInstruction(schemas []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with exactly %d JSON values, one per line, in this order. No prose, no markdown fences.\n", len(schemas))
	for i, s := range schemas {
		enc, err := json.Marshal(s)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Value %d must conform to this JSON Schema: %s\n", i+1, enc)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
