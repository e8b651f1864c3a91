package embeddings

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestNewProvider_FastEmbedDimensionMismatch(t *testing.T) {
	// Fails on the dimension check in cgo builds and on the cgo guard
	// otherwise.
	cfg := Config{
		Provider:  "fastembed",
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 999,
	}

	if _, err := NewProvider(cfg); err == nil {
		t.Error("expected error for mismatched dimension")
	}
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	// Skip in short mode as this downloads models
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}

	// Skip if ONNX runtime not available
	if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
		if os.Getenv("ONNX_PATH") == "" {
			t.Skip("ONNX runtime not available, skipping FastEmbed test")
		}
	}

	cfg := Config{
		Provider:  "fastembed",
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 384,
		CacheDir:  t.TempDir(),
	}

	provider, err := NewProvider(cfg)
	if errors.Is(err, ErrFastEmbedUnavailable) {
		t.Skip("cgo disabled, skipping FastEmbed test")
	}
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer provider.Close()

	if provider.Dimension() != 384 {
		t.Errorf("Dimension() = %d, want 384", provider.Dimension())
	}

	ctx := context.Background()

	vec, err := provider.EmbedText(ctx, "a short post about coffee")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("EmbedText() vector length = %d, want 384", len(vec))
	}

	vecs, err := provider.EmbedTexts(ctx, []string{"morning routine", "product launch"})
	if err != nil {
		t.Fatalf("EmbedTexts() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("EmbedTexts() returned %d vectors, want 2", len(vecs))
	}

	if _, err := provider.EmbedText(ctx, ""); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("EmbedText(\"\") error = %v, want ErrEmptyInput", err)
	}
}
