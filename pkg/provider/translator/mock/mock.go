// Package mock provides a test double for the translator.Provider interface.
//
// Use Provider in unit tests to verify the requests the pipeline sends and to
// feed controlled translations without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

// Call records a single invocation of Translate.
type Call struct {
	Ctx context.Context
	Req translator.Request
}

// Provider is a mock implementation of translator.Provider.
//
// When Results is nil and Err is nil, Translate echoes the source text for
// every target with Provider set to ProviderName, which keeps simple pipeline
// tests from having to enumerate targets up front.
type Provider struct {
	mu sync.Mutex

	// Results, if non-nil, is returned verbatim from Translate.
	Results []translator.Result

	// Err, if non-nil, is returned from Translate.
	Err error

	// ProviderName is returned by Name and stamped on echoed results.
	// Defaults to "mock".
	ProviderName string

	// Delay, if set, makes Translate wait before answering so tests can drive
	// timeouts and cancellation.
	Delay func(ctx context.Context) error

	// Calls records every invocation in order.
	Calls []Call
}

var _ translator.Provider = (*Provider)(nil)

// Translate records the call and returns the configured results.
func (p *Provider) Translate(ctx context.Context, req translator.Request) ([]translator.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	results, err, delay := p.Results, p.Err, p.Delay
	name := p.name()
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	if results != nil {
		return results, nil
	}

	out := make([]translator.Result, len(req.Targets))
	for i, target := range req.Targets {
		out[i] = translator.Result{Lang: target, Text: req.Text, Provider: name}
	}
	return out, nil
}

// Name implements translator.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name()
}

func (p *Provider) name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

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
