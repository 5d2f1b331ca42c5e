// Package relay provides a synthesiser backed by a JSON-over-HTTP speech
// service, for deployments that run their own TTS sidecar.
//
// The service receives the sentence, language, voice, and rate as JSON and
// answers with the raw audio payload; the response Content-Type carries the
// clip's media type.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/babelroom/babelroom/pkg/provider/synth"
)

const defaultTimeout = 15 * time.Second

// Provider implements synth.Provider against a speech sidecar endpoint.
type Provider struct {
	endpoint string
	token    string
	client   *http.Client
}

var _ synth.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// New constructs a relay Provider for the given endpoint URL.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("relay: endpoint must not be empty")
	}
	p := &Provider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type wireRequest struct {
	Text  string  `json:"text"`
	Lang  string  `json:"lang,omitempty"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
}

// Synthesize implements synth.Provider.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("relay: text must not be empty")
	}

	body, err := json.Marshal(wireRequest{
		Text:  req.Text,
		Lang:  req.Lang,
		Voice: req.Voice,
		Rate:  req.Rate,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("relay: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read audio: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &synth.Clip{Audio: audio, MIME: mime}, nil
}

// Name implements synth.Provider.
func (p *Provider) Name() string { return "relay" }
