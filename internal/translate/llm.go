package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"overdub/internal/config"
	"overdub/internal/language"
	"overdub/internal/services/llm"
)

const systemPrompt = `You translate subtitle lines for a video.
You receive a JSON object {"source": <language>, "target": <language>, "lines": [<string>, ...]}.
Respond with JSON only, exactly {"lines": [<string>, ...]} containing one translation per input line, in the same order.
Never merge, split, skip, or reorder lines. Keep each translation short enough to be read in the time the original was spoken.
Do not add commentary, quotes, or notes.`

// Completer is the subset of the LLM client the backend needs.
type Completer interface {
	CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) error
}

// LLMBackend translates through an OpenAI-compatible chat completion API.
type LLMBackend struct {
	client Completer
}

var _ Backend = (*LLMBackend)(nil)

// NewLLMBackend wraps a completion client.
func NewLLMBackend(client Completer) *LLMBackend {
	return &LLMBackend{client: client}
}

// NewLLMBackendFromConfig builds the backend from the translation section.
func NewLLMBackendFromConfig(cfg *config.Config) *LLMBackend {
	return NewLLMBackend(llm.NewClient(llm.Config{
		APIKey:         cfg.Translation.APIKey,
		BaseURL:        cfg.Translation.BaseURL,
		Model:          cfg.Translation.Model,
		Referer:        cfg.Translation.Referer,
		Title:          cfg.Translation.Title,
		TimeoutSeconds: cfg.Translation.TimeoutSeconds,
	}))
}

// Supports reports whether both languages are in the voice/translation table.
func (b *LLMBackend) Supports(source, target string) bool {
	return language.Supported(source) && language.Supported(target)
}

type batchRequest struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Lines  []string `json:"lines"`
}

type batchResponse struct {
	Lines []string `json:"lines"`
}

// TranslateBatch implements Backend.
func (b *LLMBackend) TranslateBatch(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b.client == nil {
		return nil, fmt.Errorf("llm backend: client not configured")
	}
	payload, err := json.Marshal(batchRequest{
		Source: language.DisplayName(source),
		Target: language.DisplayName(target),
		Lines:  texts,
	})
	if err != nil {
		return nil, fmt.Errorf("llm backend: encode request: %w", err)
	}
	var resp batchResponse
	if err := b.client.CompleteInto(ctx, systemPrompt, string(payload), &resp); err != nil {
		return nil, err
	}
	if len(resp.Lines) != len(texts) {
		return nil, fmt.Errorf("llm backend: expected %d lines, got %d", len(texts), len(resp.Lines))
	}
	out := make([]string, len(resp.Lines))
	for i, line := range resp.Lines {
		out[i] = strings.TrimSpace(line)
	}
	return out, nil
}

// OpenCache selects the cache described by the translation section: SQLite
// when cache_path is set, memory otherwise.
func OpenCache(ctx context.Context, cfg *config.Config) (Cache, error) {
	if strings.TrimSpace(cfg.Translation.CachePath) == "" {
		return NewMemoryCache(), nil
	}
	return OpenSQLiteCache(ctx, cfg.Translation.CachePath, cfg.Translation.Model)
}
