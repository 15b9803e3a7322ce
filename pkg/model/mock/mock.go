// Package mock provides a test double for the model.Provider interface.
//
// Use Provider in unit tests to verify that pipeline stages send correct
// requests and to feed controlled responses without a live model backend.
// Set response fields before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*model.Response{{Blocks: blocks, Status: 200}},
//	}
//	resp, err := p.Converse(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/emberhealth/chartflow/pkg/model"
)

// ConverseCall records a single invocation of Converse.
type ConverseCall struct {
	// Ctx is the context passed to Converse.
	Ctx context.Context
	// Req is the Request passed to Converse.
	Req model.Request
}

// Provider is a mock implementation of model.Provider.
// Zero values cause Converse to return an empty Response and nil error.
type Provider struct {
	mu sync.Mutex

	// Responses is the queue of responses returned by successive Converse
	// calls. When the queue is exhausted the last entry is returned again;
	// when empty, an empty Response is returned.
	Responses []*model.Response

	// Err, if non-nil, is returned by every Converse call instead of a
	// response.
	Err error

	// Caps is returned by Capabilities. Defaults to a fully-capable model.
	Caps *model.Capabilities

	// ConverseCalls records every Converse invocation in order.
	ConverseCalls []ConverseCall

	next int
}

// Converse implements model.Provider.
func (p *Provider) Converse(ctx context.Context, req model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ConverseCalls = append(p.ConverseCalls, ConverseCall{Ctx: ctx, Req: req})

	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.Responses) == 0 {
		return &model.Response{Status: 200}, nil
	}
	idx := p.next
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	p.next++
	return p.Responses[idx], nil
}

// Capabilities implements model.Provider.
func (p *Provider) Capabilities() model.Capabilities {
	if p.Caps != nil {
		return *p.Caps
	}
	return model.Capabilities{SupportsAudio: true, SupportsJSONSchema: true}
}
