// Package relay provides a translator backed by a JSON-over-HTTP translation
// relay service.
//
// The relay speaks a single endpoint: POST / with the segment, its source
// tag, the target tags, and optional context lines; it answers with one
// translation per target including sentence-length alignment when available.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

const defaultTimeout = 10 * time.Second

// Provider implements translator.Provider against a relay endpoint.
type Provider struct {
	endpoint string
	token    string
	client   *http.Client
}

var _ translator.Provider = (*Provider)(nil)

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
	Text    string   `json:"text"`
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Context []string `json:"context,omitempty"`
}

type wireSentLen struct {
	Src   []int `json:"src"`
	Trans []int `json:"trans"`
}

type wireTranslation struct {
	Lang    string       `json:"lang"`
	Text    string       `json:"text"`
	SentLen *wireSentLen `json:"sentLen,omitempty"`
}

type wireResponse struct {
	Translations []wireTranslation `json:"translations"`
}

// Translate implements translator.Provider.
func (p *Provider) Translate(ctx context.Context, req translator.Request) ([]translator.Result, error) {
	body, err := json.Marshal(wireRequest{
		Text:    req.Text,
		From:    req.FromLang,
		To:      req.Targets,
		Context: req.Context,
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

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("relay: decode response: %w", err)
	}

	byLang := make(map[string]wireTranslation, len(wire.Translations))
	for _, t := range wire.Translations {
		byLang[t.Lang] = t
	}

	out := make([]translator.Result, 0, len(req.Targets))
	for _, target := range req.Targets {
		t, ok := byLang[target]
		if !ok {
			return nil, fmt.Errorf("relay: response missing target %q", target)
		}
		r := translator.Result{
			Lang:     target,
			Text:     t.Text,
			Provider: "relay",
		}
		if t.SentLen != nil {
			r.SrcSentLen = t.SentLen.Src
			r.TransSentLen = t.SentLen.Trans
		}
		out = append(out, r)
	}
	return out, nil
}

// Name implements translator.Provider.
func (p *Provider) Name() string { return "relay" }
