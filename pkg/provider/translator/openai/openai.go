// Package openai provides a translator backed by the OpenAI chat API.
//
// Each call sends one committed segment plus its preceding context lines and
// asks the model for a strict JSON object mapping every target tag to an
// array of translated sentences. Sentence arrays give the TTS queue the
// alignment it needs without a second round trip.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

const systemPrompt = `You are a translation engine for live speech transcripts.
Translate the text in the user message into every requested target language.
Preserve the speaker's register and keep sentence boundaries where the source has them.
Respond with ONLY a JSON object of the form {"<target tag>": ["sentence 1", "sentence 2"], ...}
with one key per requested target tag and no other keys, commentary, or markdown.`

// Provider implements translator.Provider using the OpenAI chat API.
type Provider struct {
	client oai.Client
	model  string
}

var _ translator.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point at
// an API-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI translator.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Translate implements translator.Provider.
func (p *Provider) Translate(ctx context.Context, req translator.Request) ([]translator.Result, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(buildPrompt(req)),
		},
		Temperature: param.NewOpt(0.2),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	byLang, err := parseResponse(resp.Choices[0].Message.Content, req.Targets)
	if err != nil {
		return nil, err
	}

	srcLens := translator.SentenceLengths(translator.SplitSentences(req.Text))
	out := make([]translator.Result, 0, len(req.Targets))
	for _, target := range req.Targets {
		sentences := byLang[target]
		out = append(out, translator.Result{
			Lang:         target,
			Text:         strings.Join(sentences, " "),
			SrcSentLen:   srcLens,
			TransSentLen: translator.SentenceLengths(sentences),
			Provider:     "openai",
		})
	}
	return out, nil
}

// Name implements translator.Provider.
func (p *Provider) Name() string { return "openai" }

// buildPrompt renders the user message: context lines first so the model sees
// the running topic, then the segment to translate and the target list.
func buildPrompt(req translator.Request) string {
	var b strings.Builder
	if len(req.Context) > 0 {
		b.WriteString("Previous segments (context only, do not translate):\n")
		for _, line := range req.Context {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if req.FromLang != "" {
		fmt.Fprintf(&b, "Source language: %s\n", req.FromLang)
	}
	fmt.Fprintf(&b, "Target languages: %s\n\n", strings.Join(req.Targets, ", "))
	b.WriteString("Translate this text:\n")
	b.WriteString(req.Text)
	return b.String()
}

// parseResponse decodes the model's JSON object, tolerating markdown fences,
// and verifies every requested target is present with at least one sentence.
func parseResponse(content string, targets []string) (map[string][]string, error) {
	content = strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(content, "```json"); ok {
		content = after
	} else if after, ok := strings.CutPrefix(content, "```"); ok {
		content = after
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	content = strings.TrimSpace(content)

	var byLang map[string][]string
	if err := json.Unmarshal([]byte(content), &byLang); err != nil {
		return nil, fmt.Errorf("openai: decode translation object: %w", err)
	}
	for _, target := range targets {
		if len(byLang[target]) == 0 {
			return nil, fmt.Errorf("openai: response missing target %q", target)
		}
	}
	return byLang, nil
}
