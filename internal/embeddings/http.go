package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// httpProvider speaks the OpenAI-compatible embeddings API through
// langchaingo. TEI exposes the same surface, so one client covers both.
type httpProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	model     string
	dimension int
	timeout   time.Duration
	metrics   *Metrics
}

// newHTTPProvider creates a provider for an OpenAI-compatible endpoint.
func newHTTPProvider(cfg Config) (*httpProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI ignores it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &httpProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

func (p *httpProvider) EmbedText(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "embed_text", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	out := widen(vec)
	if err := checkDimension(out, p.dimension); err != nil {
		genErr = err
		return nil, genErr
	}
	return out, nil
}

func (p *httpProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "embed_texts", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(vecs) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
		return nil, genErr
	}

	out := make([][]float64, len(vecs))
	for i, vec := range vecs {
		out[i] = widen(vec)
		if err := checkDimension(out[i], p.dimension); err != nil {
			genErr = err
			return nil, genErr
		}
	}
	return out, nil
}

func (p *httpProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for the HTTP provider.
func (p *httpProvider) Close() error {
	return nil
}

func (p *httpProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
