package resilience

import (
	"context"

	"github.com/babelroom/babelroom/pkg/provider/synth"
)

// SynthFallback implements [synth.Provider] with a circuit breaker per
// backend and automatic failover across any registered fallbacks.
type SynthFallback struct {
	group *FallbackGroup[synth.Provider]
}

// Compile-time interface assertion.
var _ synth.Provider = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional synthesiser as a fallback.
func (f *SynthFallback) AddFallback(provider synth.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Synthesize sends the request to the first healthy backend and returns its
// clip. If the primary fails, subsequent fallbacks are tried.
func (f *SynthFallback) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	return ExecuteWithResult(f.group, func(p synth.Provider) (*synth.Clip, error) {
		return p.Synthesize(ctx, req)
	})
}

// Name returns the primary backend's name.
func (f *SynthFallback) Name() string {
	return f.group.entries[0].name
}
