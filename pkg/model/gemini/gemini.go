// Package gemini provides a model provider backed by the Google Gemini API
// through the official genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"github.com/emberhealth/chartflow/pkg/model"
)

// Provider implements model.Provider using the Gemini generateContent API.
type Provider struct {
	client *genai.Client
	model  string
}

// New constructs a new Gemini model provider. When apiKey is empty the
// genai client falls back to the GEMINI_API_KEY or GOOGLE_API_KEY
// environment variable.
func New(ctx context.Context, apiKey string, modelName string) (*Provider, error) {
	if modelName == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}

	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: modelName}, nil
}

// Converse implements model.Provider.
func (p *Provider) Converse(ctx context.Context, req model.Request) (*model.Response, error) {
	contents, cfg := p.buildRequest(req)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, toBackendError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &model.Response{Status: http.StatusOK}, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return &model.Response{
		Blocks: model.ParseBlocks(text.String()),
		Status: http.StatusOK,
	}, nil
}

// Capabilities implements model.Provider. Gemini models accept inline audio
// and enforce response schemas natively.
func (p *Provider) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsAudio:      true,
		SupportsJSONSchema: true,
	}
}

// buildRequest converts a model.Request into genai contents plus config.
func (p *Provider) buildRequest(req model.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	if len(req.SystemPrompt) > 0 {
		var sysParts []*genai.Part
		for _, s := range req.SystemPrompt {
			sysParts = append(sysParts, &genai.Part{Text: s})
		}
		cfg.SystemInstruction = &genai.Content{Parts: sysParts}
	}

	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}

	switch len(req.Schemas) {
	case 0:
		cfg.ResponseMIMEType = ""
	case 1:
		cfg.ResponseJsonSchema = req.Schemas[0]
	default:
		// generateContent enforces a single schema per call; wrap the rest
		// into a prompt instruction and parse blocks from the output.
		cfg.ResponseMIMEType = ""
		var b strings.Builder
		fmt.Fprintf(&b, "Respond with exactly %d JSON values, one per line, in this order. No prose.\n", len(req.Schemas))
		for i, s := range req.Schemas {
			enc, err := json.Marshal(s)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "Value %d must conform to this JSON Schema: %s\n", i+1, enc)
		}
		instr := &genai.Part{Text: b.String()}
		if cfg.SystemInstruction == nil {
			cfg.SystemInstruction = &genai.Content{}
		}
		cfg.SystemInstruction.Parts = append(cfg.SystemInstruction.Parts, instr)
	}

	var parts []*genai.Part
	for _, u := range req.UserPrompt {
		parts = append(parts, &genai.Part{Text: u})
	}
	for _, chunk := range req.Audio {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mimeType(chunk.Format),
				Data:     chunk.Data,
			},
		})
	}

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	return contents, cfg
}

// mimeType maps a container format onto the MIME type Gemini expects.
func mimeType(f model.AudioFormat) string {
	switch f {
	case "mp3":
		return "audio/mp3"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	default:
		return "audio/" + string(f)
	}
}

// toBackendError maps genai SDK errors onto model.BackendError.
func toBackendError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.BackendError{
			Status:  apiErr.Code,
			Payload: truncate(apiErr.Message, 2048),
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
