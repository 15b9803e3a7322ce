// Package model defines the Provider interface for conversational model
// backends.
//
// A model provider wraps a remote multimodal API (e.g., OpenAI, Google
// Gemini, or anything reachable through any-llm-go) and exposes a single
// uniform operation — [Provider.Converse] — for the chartflow pipeline to
// submit prompts, JSON response schemas, and audio, without coupling to any
// specific SDK. Adapters differ per vendor only in wire encoding, never in
// this contract.
//
// Implementors must be safe for concurrent use. All calls are blocking,
// synchronous request/response; no streaming consumption is assumed.
package model

import (
	"context"
	"encoding/json"
)

// AudioFormat identifies the container format of an audio chunk, e.g.
// "mp3", "wav", "ogg" or "webm". Adapters map this to whatever MIME type or
// format tag their vendor expects.
type AudioFormat string

// AudioChunk is one opaque, pre-segmented piece of session audio. The
// pipeline performs no signal processing — chunks are handed to the backend
// exactly as received.
type AudioChunk struct {
	// Data is the raw encoded audio.
	Data []byte

	// Format is the container format of Data.
	Format AudioFormat
}

// Request carries everything a backend needs for one conversational turn.
// A zero-value request is invalid; at minimum one system or user prompt
// part must be present.
type Request struct {
	// SystemPrompt is the ordered list of system instruction parts. Adapters
	// join or forward them according to vendor conventions.
	SystemPrompt []string

	// UserPrompt is the ordered list of user content parts.
	UserPrompt []string

	// Schemas lists the JSON Schemas the response must conform to, in order.
	// When more than one schema is given the model is expected to return one
	// JSON block per schema, in the same order. Empty means free-form text
	// is acceptable (the adapter still attempts JSON block extraction).
	Schemas []map[string]any

	// Audio holds audio chunks to attach to the user turn. Callers must
	// check [Provider.Capabilities] before attaching audio; adapters without
	// audio support return an error for non-empty Audio.
	Audio []AudioChunk

	// Temperature controls output randomness. Zero requests the adapter's
	// conservative default rather than greedy decoding — structured
	// extraction wants low but not necessarily zero temperature.
	Temperature float64
}

// Response is the parsed result of a Converse call.
type Response struct {
	// Blocks holds the JSON values extracted from the model output, in the
	// order they appeared. May be empty when the model produced no content —
	// callers must interpret that as "nothing changed", never as a deletion.
	Blocks []json.RawMessage

	// Status is the raw HTTP status code reported by the backend, retained
	// for diagnostics. Adapters that cannot observe one report 200 on
	// success.
	Status int
}

// Capabilities describes what a provider's underlying model supports. The
// result is assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// SupportsAudio indicates the model accepts audio input parts.
	SupportsAudio bool

	// SupportsJSONSchema indicates the vendor enforces response schemas
	// natively. When false, adapters embed the schema in the prompt and the
	// caller must tolerate schema drift.
	SupportsJSONSchema bool
}

// Provider is the abstraction over any conversational model backend.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
type Provider interface {
	// Converse submits req and blocks until the full response arrives.
	//
	// Transport and backend failures are returned as a [*BackendError]
	// carrying the raw status and payload. A nil error with an empty
	// Blocks slice means the model genuinely produced no usable content.
	Converse(ctx context.Context, req Request) (*Response, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
