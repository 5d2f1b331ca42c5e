// Package noop provides an identity translator.
//
// Every target receives the source text unchanged. The room pipeline uses it
// when no backend is configured and as the terminal fallback when all real
// backends fail, so subscribers keep receiving text instead of nothing.
package noop

import (
	"context"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

// Provider is the identity translator.
type Provider struct{}

var _ translator.Provider = Provider{}

// New returns the identity translator.
func New() Provider { return Provider{} }

// Translate returns req.Text unchanged for every target.
func (Provider) Translate(_ context.Context, req translator.Request) ([]translator.Result, error) {
	sents := translator.SplitSentences(req.Text)
	lens := translator.SentenceLengths(sents)

	out := make([]translator.Result, len(req.Targets))
	for i, target := range req.Targets {
		out[i] = translator.Result{
			Lang:         target,
			Text:         req.Text,
			SrcSentLen:   lens,
			TransSentLen: lens,
			Provider:     "noop",
		}
	}
	return out, nil
}

// Name implements translator.Provider.
func (Provider) Name() string { return "noop" }
