// Package embed wraps the external embedding capability: text in,
// fixed-dimension vector out, deterministic for identical input.
package embed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when an embedding call exceeds its deadline,
	// including after the single retry applied by WithRetry.
	ErrTimeout = errors.New("embed: embedding timed out")

	// ErrEmptyResponse is returned when the provider returns no vectors.
	ErrEmptyResponse = errors.New("embed: empty embedding response")
)

// Embedder generates vector embeddings for batches of texts.
// Implementations must be deterministic: identical text yields
// bit-identical vectors, which re-ingestion and caching rely on.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the fixed vector length this embedder produces.
	Dimension() int
}

// Config configures the embedding provider.
type Config struct {
	Provider  string `json:"provider" yaml:"provider"` // local, openai
	Model     string `json:"model" yaml:"model"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// New creates an Embedder for the configured provider.
func New(cfg Config) (Embedder, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 256
	}
	switch cfg.Provider {
	case "", "local":
		return NewLocal(cfg.Dimension), nil
	case "openai", "openai-compat", "custom":
		return newOpenAICompat(cfg), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}
