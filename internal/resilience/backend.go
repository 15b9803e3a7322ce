package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberhealth/chartflow/pkg/model"
)

// ErrAllBackendsFailed is returned by [Backend.Converse] when every entry
// failed or had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

// Backend composes a primary [model.Provider] with ordered fallbacks, each
// guarded by its own [Breaker]. A call goes to the first entry whose
// breaker admits it; on failure the next entry is tried.
//
// Client-side rejections (HTTP 4xx from the backend) are returned
// immediately without failover and without tripping the breaker: the
// request itself is at fault and another vendor will reject it the same
// way.
type Backend struct {
	entries []backendEntry
	cfg     BreakerConfig
}

type backendEntry struct {
	name     string
	provider model.Provider
	breaker  *Breaker
}

// Compile-time assertion that Backend satisfies model.Provider.
var _ model.Provider = (*Backend)(nil)

// NewBackend wraps primary as the preferred backend. cfg seeds every
// per-entry breaker; the Name field is overridden per entry.
func NewBackend(primary model.Provider, primaryName string, cfg BreakerConfig) *Backend {
	b := &Backend{cfg: cfg}
	b.add(primaryName, primary)
	return b
}

// AddFallback registers another provider, tried after all earlier entries.
func (b *Backend) AddFallback(name string, p model.Provider) {
	b.add(name, p)
}

func (b *Backend) add(name string, p model.Provider) {
	cfg := b.cfg
	cfg.Name = name
	b.entries = append(b.entries, backendEntry{
		name:     name,
		provider: p,
		breaker:  NewBreaker(cfg),
	})
}

// Converse implements [model.Provider]. Entries are tried in registration
// order; open breakers are skipped. When every entry fails the last error
// is wrapped in [ErrAllBackendsFailed].
func (b *Backend) Converse(ctx context.Context, req model.Request) (*model.Response, error) {
	var lastErr error
	for i := range b.entries {
		e := &b.entries[i]

		var (
			resp      *model.Response
			clientErr error
		)
		err := e.breaker.Do(func() error {
			r, convErr := e.provider.Converse(ctx, req)
			if isClientError(convErr) {
				// Healthy backend, bad request. Not a breaker failure.
				clientErr = convErr
				return nil
			}
			resp = r
			return convErr
		})
		if clientErr != nil {
			return nil, clientErr
		}
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping backend", "backend", e.name)
		} else {
			slog.Warn("resilience: backend failed, trying next",
				"backend", e.name, "error", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Capabilities reports the primary's capabilities. Capabilities are static
// metadata and do not participate in failover.
func (b *Backend) Capabilities() model.Capabilities {
	if len(b.entries) == 0 {
		return model.Capabilities{}
	}
	return b.entries[0].provider.Capabilities()
}

// isClientError reports whether err is a backend rejection of the request
// itself rather than a backend outage.
func isClientError(err error) bool {
	var be *model.BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.Status >= 400 && be.Status < 500
}
