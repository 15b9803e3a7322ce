package questionnaire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/schema"
)

const defaultTemperature = 0.1

// proposePrompt asks the model for a full updated form, changed only where
// this increment gives explicit evidence. The current state already
// reflects everything known from earlier increments, so unstated items
// must be returned exactly as given.
const proposePrompt = `You update a clinical questionnaire from the newest part of a visit transcript.

The questionnaire's current state already reflects everything known from earlier parts of the conversation. Change a value only where this transcript increment gives explicit evidence for the change. Return the full questionnaire JSON with every question present; questions the increment does not address must be returned exactly as given.`

// Option is a functional option for configuring a [Reconciler].
type Option func(*Reconciler)

// WithTemperature sets the sampling temperature for proposal requests.
// Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(r *Reconciler) {
		r.temperature = temp
	}
}

// Reconciler performs the propose-then-guard reconciliation of a
// questionnaire against a transcript increment. It is safe for concurrent
// use.
type Reconciler struct {
	provider    model.Provider
	temperature float64
}

// NewReconciler returns a [Reconciler] backed by the given provider.
func NewReconciler(provider model.Provider, opts ...Option) *Reconciler {
	r := &Reconciler{
		provider:    provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile asks the model for a proposed update of prior grounded in the
// transcript increment, then applies the mandatory guard.
//
// When the model produces no usable response, reconciliation is skipped
// entirely and the prior questionnaire is returned untouched — never
// partially applied. Guard corrections are logged and returned; they are
// not errors.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	prior Questionnaire,
	increment []transcript.Line,
	opts GuardOptions,
) (Questionnaire, []Correction, error) {
	proposed, err := r.propose(ctx, prior, increment, opts)
	if err != nil {
		return prior.Clone(), nil, err
	}
	if proposed == nil {
		return prior.Clone(), nil, nil
	}

	merged, corrections := ApplyGuard(prior, *proposed, opts)
	for _, c := range corrections {
		slog.Info("questionnaire: guard correction",
			slog.String("form", prior.Name),
			slog.Int("question", c.QuestionDBID),
			slog.String("rule", c.Rule),
			slog.String("detail", c.Detail))
	}
	return merged, corrections, nil
}

// propose requests the full updated questionnaire. A nil, nil return means
// the model produced no usable content.
func (r *Reconciler) propose(
	ctx context.Context,
	prior Questionnaire,
	increment []transcript.Line,
	opts GuardOptions,
) (*Questionnaire, error) {
	var sb strings.Builder
	sb.WriteString("Current questionnaire state:\n")
	enc, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("questionnaire: encode prior: %w", err)
	}
	sb.Write(enc)
	sb.WriteString("\n\nTranscript increment:\n")
	for _, l := range increment {
		fmt.Fprintf(&sb, "[%s]: %s\n", l.Speaker, l.Text)
	}

	req := model.Request{
		SystemPrompt: []string{proposePrompt},
		UserPrompt:   []string{sb.String()},
		Schemas:      []map[string]any{Schema(prior, opts.IncludeSkipped)},
		Temperature:  r.temperature,
	}

	resp, err := r.provider.Converse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("questionnaire: propose: %w", err)
	}
	if len(resp.Blocks) == 0 {
		return nil, nil
	}

	var proposed Questionnaire
	if err := json.Unmarshal(resp.Blocks[0], &proposed); err != nil {
		// Malformed proposal: skip reconciliation for this increment rather
		// than trust a partial decode.
		slog.Warn("questionnaire: discarding malformed proposal",
			slog.String("form", prior.Name), slog.Any("error", err))
		return nil, nil
	}
	return &proposed, nil
}

// Schema builds the JSON Schema for a full-questionnaire response matching
// q's structure. includeSkipped controls whether the skipped flag
// participates; the plain form variant omits it from the schema entirely.
func Schema(q Questionnaire, includeSkipped bool) map[string]any {
	questionProps := map[string]any{
		"dbid":  schema.Integer("Question identity; must be returned unchanged."),
		"label": schema.String("Question text; must be returned unchanged."),
		"type": schema.Enum("Question type; must be returned unchanged.", []string{
			string(TypeFreeText), string(TypeInteger),
			string(TypeSingleChoice), string(TypeMultipleChoice),
		}),
		"responses": schema.Array("Answer slots for this question.",
			schema.Object(map[string]any{
				"dbid":     schema.Integer("Response identity; must be returned unchanged."),
				"value":    schema.String("Response content."),
				"selected": schema.Boolean("Whether this response is chosen."),
				"comment":  schema.Nullable(schema.String("Optional annotation.")),
			})),
	}
	if includeSkipped {
		questionProps["skipped"] = schema.Nullable(
			schema.Boolean("Whether the item is marked not applicable."))
	}

	return schema.Object(map[string]any{
		"name":      schema.String("Form name; must be returned unchanged."),
		"dbid":      schema.Integer("Form identity; must be returned unchanged."),
		"questions": schema.Array("All questions, in the given order.", schema.Object(questionProps)),
	})
}
