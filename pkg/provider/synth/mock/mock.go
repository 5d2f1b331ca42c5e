// Package mock provides a test double for the synth.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/babelroom/babelroom/pkg/provider/synth"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Ctx context.Context
	Req synth.Request
}

// Provider is a mock implementation of synth.Provider.
//
// When Clip and Err are both nil, Synthesize returns the request text as the
// audio payload, which lets tests assert on what would have been spoken
// without decoding audio.
type Provider struct {
	mu sync.Mutex

	// Clip, if non-nil, is returned from Synthesize.
	Clip *synth.Clip

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Delay, if set, runs before answering so tests can drive cancellation.
	Delay func(ctx context.Context) error

	// Calls records every invocation in order.
	Calls []Call
}

var _ synth.Provider = (*Provider)(nil)

// Synthesize records the call and returns the configured clip.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	clip, err, delay := p.Clip, p.Err, p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	if clip != nil {
		return clip, nil
	}
	return &synth.Clip{Audio: []byte(req.Text), MIME: "text/plain"}, nil
}

// Name implements synth.Provider.
func (p *Provider) Name() string { return "mock" }

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
