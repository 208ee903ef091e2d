// Package llm abstracts the language-model providers behind a two-message
// Backend interface and provides the tolerant JSON extraction used to
// parse model output.
package llm

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrNoBackend is returned by the null backend. Callers treat it as
// "AI unavailable" and fall through to rule-based analysis.
var ErrNoBackend = errors.New("no LLM backend configured")

// Backend invokes a model with a system and a user message and returns
// the raw completion text.
type Backend interface {
	Invoke(ctx context.Context, system, user string) (string, error)
	Name() string
}

// FromEnv selects a backend by model identifier: claude* models go to
// Anthropic, gpt* models to OpenAI. An empty model id or missing
// credentials yields the null backend so the caller's fall-through path
// runs unchanged.
func FromEnv(model string) Backend {
	switch {
	case strings.HasPrefix(model, "claude"):
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return newAnthropic(model, key)
		}
	case strings.HasPrefix(model, "gpt"):
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			b, err := newOpenAI(model, key)
			if err == nil {
				return b
			}
		}
	}
	return nullBackend{}
}

type nullBackend struct{}

func (nullBackend) Invoke(context.Context, string, string) (string, error) {
	return "", ErrNoBackend
}

func (nullBackend) Name() string { return "none" }
