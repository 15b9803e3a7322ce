package clinical

import (
	"context"
	"sync"

	"github.com/emberhealth/chartflow/internal/questionnaire"
)

// Compile-time assertion that MemProvider satisfies the Provider interface.
var _ Provider = (*MemProvider)(nil)

// MemProvider is a thread-safe, in-memory implementation of [Provider].
// It is suitable for single-session use and testing. The zero value is
// ready to use and reports an empty chart.
type MemProvider struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewMemProvider returns a [MemProvider] seeded with the given snapshot.
func NewMemProvider(snap Snapshot) *MemProvider {
	return &MemProvider{snap: snap}
}

// Snapshot implements [Provider.Snapshot]. The returned value shares no
// slices with the provider's internal state.
func (p *MemProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneSnapshot(p.snap), nil
}

// Set replaces the provider's chart state. Existing snapshots held by
// in-flight invocations are unaffected.
func (p *MemProvider) Set(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = cloneSnapshot(snap)
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	out.Medications = append([]Medication(nil), s.Medications...)
	out.Allergies = append([]Allergy(nil), s.Allergies...)
	if s.StagedForms != nil {
		out.StagedForms = make([]questionnaire.Questionnaire, 0, len(s.StagedForms))
		for _, f := range s.StagedForms {
			out.StagedForms = append(out.StagedForms, f.Clone())
		}
	}
	return out
}
