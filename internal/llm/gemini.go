package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"chat-server/internal/config"
)

// Gemini streams replies from the Gemini API. The underlying client is
// created on first use.
type Gemini struct {
	cfg config.GeminiConfig
	log *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewGemini(cfg config.GeminiConfig, log *slog.Logger) *Gemini {
	if log == nil {
		log = slog.Default()
	}
	return &Gemini{cfg: cfg, log: log}
}

func (g *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(context.WithoutCancel(ctx), &genai.ClientConfig{
		APIKey:  g.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			Timeout: genai.Ptr(g.cfg.Timeout),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *Gemini) buildConfig(p Persona) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(g.cfg.Temperature)),
		SystemInstruction: genai.NewContentFromText(p.SystemPrompt(), genai.RoleUser),
	}
}

func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := g.getClient(ctx)
		if err != nil {
			yield("", err)
			return
		}

		contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
		for resp, err := range client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, g.buildConfig(req.Persona)) {
			if err != nil {
				yield("", fmt.Errorf("generate content stream: %w", err))
				return
			}
			for _, text := range extractText(resp) {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// extractText returns the answer parts of one streamed response, skipping
// thought summaries.
func extractText(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return nil
	}
	var texts []string
	for _, part := range content.Parts {
		if part == nil || part.Text == "" || part.Thought {
			continue
		}
		texts = append(texts, part.Text)
	}
	return texts
}
