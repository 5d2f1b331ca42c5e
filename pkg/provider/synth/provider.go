// Package synth defines the Provider interface for speech-synthesis backends.
//
// The TTS queue hands a synthesiser one sentence at a time, already split and
// paced, together with the language, voice, and a playback-rate multiplier.
// Unlike a streaming conversation pipeline, transcript relay wants whole
// clips: a sentence is either fully synthesised and queued for delivery or it
// is dropped, so the interface is request/response rather than channel-based.
//
// Implementations must be safe for concurrent use; the queues for different
// languages synthesise in parallel.
package synth

import "context"

// Request is one sentence to synthesise.
type Request struct {
	// Text is the sentence to speak. Never empty.
	Text string

	// Lang is the BCP-47 tag of Text. Providers that need a locale hint use
	// it; others may ignore it.
	Lang string

	// Voice is the provider-specific voice name.
	Voice string

	// Rate is the playback-speed multiplier. 1.0 is normal speed; the queue
	// raises it when the backlog grows. Zero means 1.0.
	Rate float64
}

// Clip is one synthesised sentence.
type Clip struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// MIME is the payload's media type ("audio/mpeg", "audio/pcm;rate=16000").
	MIME string
}

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Synthesize renders req.Text as audio. It returns an error when the
	// backend fails or ctx expires; a nil error implies a non-nil Clip.
	Synthesize(ctx context.Context, req Request) (*Clip, error)

	// Name identifies the backend ("openai", "relay", "noop") for logs.
	Name() string
}
