package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberhealth/chartflow/internal/capability"
	"github.com/emberhealth/chartflow/internal/clinical"
	"github.com/emberhealth/chartflow/internal/extract"
	"github.com/emberhealth/chartflow/internal/observe"
	"github.com/emberhealth/chartflow/internal/questionnaire"
	"github.com/emberhealth/chartflow/internal/synth"
	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
)

// CommandResult pairs an instruction with its synthesized parameters and,
// when the capability declares a builder and the parameters were usable,
// the built host command.
type CommandResult struct {
	// Instruction is the extracted instruction this result belongs to.
	Instruction extract.Instruction

	// Params is the synthesized parameter payload, nil when synthesis
	// produced nothing usable.
	Params json.RawMessage

	// Command is the built host command, nil when no builder exists or the
	// parameters were unusable.
	Command capability.HostCommand
}

// IncrementResult is the outcome of processing one transcript increment.
type IncrementResult struct {
	// Lines holds the diarized lines of this increment only.
	Lines []transcript.Line

	// Instructions is the full living instruction list after this pass.
	Instructions []extract.Instruction

	// Commands holds per-instruction synthesis results for non-questionnaire
	// kinds detected in this pass.
	Commands []CommandResult

	// Forms holds the current reconciled questionnaire forms.
	Forms []questionnaire.Questionnaire

	// Degraded lists diagnostic notes for stages that could not contribute
	// fully this increment. Empty means a clean pass.
	Degraded []string
}

// Pipeline executes the chartflow stages for one encounter. Construct it
// once and call [Pipeline.ProcessIncrement] for every new audio slice.
type Pipeline struct {
	chart      clinical.Provider
	diarizer   *transcript.Diarizer
	engine     *extract.Engine
	pool       *synth.Pool
	reconciler *questionnaire.Reconciler
	registry   *capability.Registry
	metrics    *observe.Metrics
}

// NewPipeline wires the stages together. metrics may be nil, in which case
// the package-level default instruments are used.
func NewPipeline(
	chart clinical.Provider,
	diarizer *transcript.Diarizer,
	engine *extract.Engine,
	pool *synth.Pool,
	reconciler *questionnaire.Reconciler,
	registry *capability.Registry,
	metrics *observe.Metrics,
) *Pipeline {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		chart:      chart,
		diarizer:   diarizer,
		engine:     engine,
		pool:       pool,
		reconciler: reconciler,
		registry:   registry,
		metrics:    metrics,
	}
}

// ProcessIncrement runs the full stage sequence for one audio increment
// against sess. Stages run in strict temporal order; only parameter
// synthesis fans out concurrently. The returned result always reflects the
// best available state, with Degraded listing what could not contribute.
//
// Only a chart snapshot failure aborts the pass entirely — without a
// snapshot neither availability nor prompts can be computed.
func (p *Pipeline) ProcessIncrement(ctx context.Context, sess *Session, audio []model.AudioChunk) (*IncrementResult, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.increment")
	defer span.End()

	snap, err := p.chart.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: chart snapshot: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.seedForms(snap.StagedForms)

	result := &IncrementResult{}
	log := observe.Logger(ctx)

	// ── Diarization ───────────────────────────────────────────────────────
	lines := p.diarize(ctx, audio, result, log)
	sess.lines = append(sess.lines, lines...)
	result.Lines = lines

	// ── Extraction ────────────────────────────────────────────────────────
	if len(lines) > 0 {
		p.extract(ctx, snap, lines, sess, result, log)
	}
	result.Instructions = append([]extract.Instruction(nil), sess.instructions...)

	// ── Parameter synthesis + reconciliation ─────────────────────────────
	if len(lines) > 0 {
		p.synthesize(ctx, sess, result, log)
		p.reconcile(ctx, lines, sess, result, log)
	}

	for _, dbid := range sess.formOrder {
		result.Forms = append(result.Forms, sess.forms[dbid].Clone())
	}
	return result, nil
}

func (p *Pipeline) diarize(ctx context.Context, audio []model.AudioChunk, result *IncrementResult, log *slog.Logger) []transcript.Line {
	start := time.Now()
	lines, err := p.diarizer.Diarize(ctx, audio)
	p.metrics.DiarizationDuration.Record(ctx, time.Since(start).Seconds())

	switch {
	case err == nil:
		p.metrics.RecordBackendRequest(ctx, "diarization", "ok")
	default:
		var partial *transcript.PartialResponseError
		if errors.As(err, &partial) {
			// Degrade gracefully: keep whatever lines were decodable.
			p.metrics.RecordBackendRequest(ctx, "diarization", "partial")
			result.Degraded = append(result.Degraded, "diarization: partial response")
			log.Warn("app: diarization returned a partial response", "blocks", len(partial.Blocks))
		} else {
			p.metrics.RecordBackendRequest(ctx, "diarization", "error")
			result.Degraded = append(result.Degraded, "diarization: "+err.Error())
			log.Warn("app: diarization failed", "error", err)
		}
	}
	return lines
}

func (p *Pipeline) extract(ctx context.Context, snap clinical.Snapshot, lines []transcript.Line, sess *Session, result *IncrementResult, log *slog.Logger) {
	start := time.Now()
	updated, err := p.engine.Extract(ctx, snap, lines, sess.instructions)
	p.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		// The engine already returned the prior list unchanged.
		p.metrics.RecordBackendRequest(ctx, "extraction", "error")
		result.Degraded = append(result.Degraded, "extraction: "+err.Error())
		log.Warn("app: extraction degraded", "error", err)
	} else {
		p.metrics.RecordBackendRequest(ctx, "extraction", "ok")
	}

	p.metrics.LivingInstructions.Add(ctx, int64(len(updated)-len(sess.instructions)))
	for _, inst := range updated {
		switch {
		case inst.IsNew:
			p.metrics.RecordInstruction(ctx, inst.Kind, "new")
		case inst.IsUpdated:
			p.metrics.RecordInstruction(ctx, inst.Kind, "updated")
		default:
			p.metrics.RecordInstruction(ctx, inst.Kind, "carried")
		}
	}
	sess.instructions = updated
}

// synthesize fans out parameter synthesis over the non-questionnaire
// instructions touched by this pass and builds host commands where the
// capability declares a builder.
func (p *Pipeline) synthesize(ctx context.Context, sess *Session, result *IncrementResult, log *slog.Logger) {
	var targets []extract.Instruction
	for _, inst := range sess.instructions {
		desc, ok := p.registry.Get(inst.Kind)
		if !ok || desc.Questionnaire {
			continue
		}
		if inst.IsNew || inst.IsUpdated {
			targets = append(targets, inst)
		}
	}
	if len(targets) == 0 {
		return
	}

	start := time.Now()
	results := p.pool.SynthesizeAll(ctx, targets)
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())

	for _, r := range results {
		cr := CommandResult{Instruction: r.Instruction, Params: r.Params}
		if r.Err != nil {
			p.metrics.RecordBackendRequest(ctx, "synthesis", "error")
			result.Degraded = append(result.Degraded,
				fmt.Sprintf("synthesis: %s: %v", r.Instruction.Kind, r.Err))
			log.Warn("app: synthesis abandoned", "kind", r.Instruction.Kind, "error", r.Err)
		} else {
			p.metrics.RecordBackendRequest(ctx, "synthesis", "ok")
		}
		if r.Params != nil {
			if desc, ok := p.registry.Get(r.Instruction.Kind); ok && desc.Build != nil {
				cr.Command = desc.Build(r.Params)
			}
		}
		result.Commands = append(result.Commands, cr)
	}
}

// reconcile updates every session form once per increment when a
// questionnaire-kind instruction was detected, under the guard options of
// that instruction's capability.
func (p *Pipeline) reconcile(ctx context.Context, lines []transcript.Line, sess *Session, result *IncrementResult, log *slog.Logger) {
	var desc capability.Descriptor
	found := false
	for _, inst := range sess.instructions {
		if d, ok := p.registry.Get(inst.Kind); ok && d.Questionnaire {
			desc = d
			found = true
			break
		}
	}
	if !found || len(sess.formOrder) == 0 {
		return
	}

	opts := questionnaire.GuardOptions{
		IncludeSkipped:   desc.IncludeSkipped,
		TemplateDefaults: desc.TemplateDefaults,
	}

	start := time.Now()
	defer func() {
		p.metrics.ReconciliationDuration.Record(ctx, time.Since(start).Seconds())
	}()

	for _, dbid := range sess.formOrder {
		prior := sess.forms[dbid]
		merged, corrections, err := p.reconciler.Reconcile(ctx, prior, lines, opts)
		if err != nil {
			// Reconcile already returned the prior form untouched.
			p.metrics.RecordBackendRequest(ctx, "reconciliation", "error")
			result.Degraded = append(result.Degraded,
				fmt.Sprintf("reconciliation: form %q: %v", prior.Name, err))
			log.Warn("app: reconciliation skipped", "form", prior.Name, "error", err)
			continue
		}
		p.metrics.RecordBackendRequest(ctx, "reconciliation", "ok")
		for _, c := range corrections {
			p.metrics.RecordGuardCorrection(ctx, c.Rule)
		}
		sess.forms[dbid] = merged
	}
}
