// Package openai provides a model provider backed by the OpenAI API.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/emberhealth/chartflow/pkg/model"
)

// Provider implements model.Provider using the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI model provider.
func New(apiKey string, modelName string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if modelName == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: modelName}, nil
}

// Converse implements model.Provider.
func (p *Provider) Converse(ctx context.Context, req model.Request) (*model.Response, error) {
	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toBackendError(err)
	}
	if len(resp.Choices) == 0 {
		return &model.Response{Status: http.StatusOK}, nil
	}

	content := resp.Choices[0].Message.Content
	return &model.Response{
		Blocks: model.ParseBlocks(content),
		Status: http.StatusOK,
	}, nil
}

// Capabilities implements model.Provider. Audio input is only available on
// the audio-preview model variants.
func (p *Provider) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsAudio:      strings.Contains(strings.ToLower(p.model), "audio"),
		SupportsJSONSchema: true,
	}
}

// buildParams converts a model.Request into OpenAI SDK params.
func (p *Provider) buildParams(req model.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	for _, sys := range req.SystemPrompt {
		messages = append(messages, oai.SystemMessage(sys))
	}

	// The chat completions response_format accepts a single schema, so
	// multi-schema requests carry their schemas in an extra system part and
	// rely on block extraction from free-form output.
	if len(req.Schemas) > 1 {
		messages = append(messages, oai.SystemMessage(schemaInstruction(req.Schemas)))
	}

	var parts []oai.ChatCompletionContentPartUnionParam
	for _, u := range req.UserPrompt {
		parts = append(parts, oai.TextContentPart(u))
	}
	for _, chunk := range req.Audio {
		parts = append(parts, oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(chunk.Data),
			Format: string(chunk.Format),
		}))
	}
	if len(parts) > 0 {
		messages = append(messages, oai.UserMessage(parts))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	if len(req.Schemas) == 1 {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: req.Schemas[0],
					Strict: param.NewOpt(true),
				},
			},
		}
	}

	return params
}

// schemaInstruction renders a prompt section demanding one JSON object per
// schema, in order, with no surrounding prose.
func schemaInstruction(schemas []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with exactly %d JSON values, one per line, in this order. No prose.\n", len(schemas))
	for i, s := range schemas {
		enc, err := json.Marshal(s)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Value %d must conform to this JSON Schema: %s\n", i+1, enc)
	}
	return b.String()
}

// toBackendError maps SDK errors onto model.BackendError, preserving the
// HTTP status when the request reached the API.
func toBackendError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &model.BackendError{
			Status:  apiErr.StatusCode,
			Payload: truncate(apiErr.Error(), 2048),
		}
	}
	return &model.BackendError{Payload: truncate(err.Error(), 2048)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
