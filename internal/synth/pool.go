package synth

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/emberhealth/chartflow/internal/extract"
)

const defaultWorkers = 4

// Result pairs one instruction with its synthesized parameters.
type Result struct {
	// Instruction is the input instruction.
	Instruction extract.Instruction

	// Params is the populated parameter payload, or nil when synthesis
	// produced nothing usable.
	Params json.RawMessage

	// Err is the diagnostic error for this instruction, when any. A non-nil
	// Err always comes with nil Params and never affects other results.
	Err error
}

// Pool runs synthesis for many instructions concurrently under a fixed
// worker limit.
type Pool struct {
	synth   *Synthesizer
	workers int
}

// NewPool returns a [Pool] over the given synthesizer. workers <= 0 means
// the default of 4.
func NewPool(synth *Synthesizer, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pool{synth: synth, workers: workers}
}

// SynthesizeAll runs synthesis for every instruction and returns results
// in input order.
//
// A failure or timeout on one instruction never cancels or corrupts the
// others — each is independently completed or abandoned, so the group
// functions never return an error.
func (p *Pool) SynthesizeAll(ctx context.Context, insts []extract.Instruction) []Result {
	results := make([]Result, len(insts))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, inst := range insts {
		g.Go(func() error {
			params, err := p.synth.Synthesize(ctx, inst)
			results[i] = Result{Instruction: inst, Params: params, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
