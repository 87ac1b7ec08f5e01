// Package llm streams replies from a text-generation provider on behalf of
// the assistant personas users can mention in chat.
package llm

import (
	"context"
	"errors"
	"iter"
)

var (
	ErrUnknownPersona = errors.New("unknown ai persona")
	ErrMissingAPIKey  = errors.New("gemini api key is not configured")
)

type Request struct {
	Persona Persona
	Prompt  string
}

// Provider yields reply increments in generation order. A non-nil error ends
// the stream.
type Provider interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}
