package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates the provider could not produce vectors.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrWrongDimension is returned when a provider produces vectors that do
	// not match the configured dimension.
	ErrWrongDimension = errors.New("embedding dimension mismatch")

	// ErrFastEmbedUnavailable is returned when local embedding is requested
	// in a build without cgo. The ONNX runtime bindings require cgo.
	ErrFastEmbedUnavailable = errors.New("fastembed requires a cgo build")
)

// Provider generates embedding vectors for text.
type Provider interface {
	// EmbedText embeds a single text.
	EmbedText(ctx context.Context, text string) ([]float64, error)

	// EmbedTexts embeds a batch of texts, one vector per input.
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)

	// Dimension returns the vector width this provider produces.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating a provider.
type Config struct {
	// Provider is the provider type: "http" or "fastembed".
	Provider string

	// BaseURL is the embeddings API base URL (http provider only).
	// For TEI: http://localhost:8080. For OpenAI: https://api.openai.com/v1.
	BaseURL string

	// APIKey authenticates against the API (required for OpenAI, ignored by
	// TEI).
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimension is the expected vector width. Providers reject vectors of any
	// other width.
	Dimension int

	// Timeout bounds a single embedding call (http provider only).
	Timeout time.Duration

	// CacheDir is where the fastembed provider caches model files. Defaults
	// to the user cache directory.
	CacheDir string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "http":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
		}
	case "fastembed":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("%w: dimension %d must be positive", ErrInvalidConfig, c.Dimension)
	}
	return nil
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "http":
		return newHTTPProvider(cfg)
	case "fastembed":
		if cfg.CacheDir == "" {
			cfg.CacheDir = defaultCacheDir()
		}
		return newFastEmbedProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "models_cache")
	}
	return filepath.Join(base, "banditd", "models")
}

// widen converts a provider's float32 vector into the float64 form the
// engine computes with.
func widen(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// checkDimension rejects vectors of the wrong width.
func checkDimension(vec []float64, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongDimension, len(vec), want)
	}
	return nil
}
