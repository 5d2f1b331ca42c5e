// Package noop provides a silence-generating synthesiser.
//
// It emits PCM silence whose duration matches the queue's own speaking-time
// estimate, so pacing logic behaves realistically in tests and in rooms that
// run without a configured TTS backend.
package noop

import (
	"context"
	"strings"

	"github.com/babelroom/babelroom/pkg/provider/synth"
)

const (
	sampleRate     = 16000
	bytesPerSample = 2
	wordsPerMinute = 160
)

// Provider synthesises silence.
type Provider struct{}

var _ synth.Provider = Provider{}

// New returns the silence synthesiser.
func New() Provider { return Provider{} }

// Synthesize returns 16 kHz mono PCM silence sized to the estimated speaking
// duration of req.Text at req.Rate.
func (Provider) Synthesize(_ context.Context, req synth.Request) (*synth.Clip, error) {
	rate := req.Rate
	if rate <= 0 {
		rate = 1.0
	}

	words := len(strings.Fields(req.Text))
	seconds := float64(words) * 60.0 / wordsPerMinute / rate
	if seconds < 0.1 {
		seconds = 0.1
	}

	n := int(seconds * sampleRate * bytesPerSample)
	n -= n % bytesPerSample
	return &synth.Clip{
		Audio: make([]byte, n),
		MIME:  "audio/pcm;rate=16000",
	}, nil
}

// Name implements synth.Provider.
func (Provider) Name() string { return "noop" }
