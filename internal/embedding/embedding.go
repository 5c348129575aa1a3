package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"manual-rag/internal/config"
	"manual-rag/internal/models"
)

// Embedder maps text to dense vectors through a langchaingo embedder
type Embedder struct {
	embedder embeddings.Embedder
	timeout  time.Duration
}

// NewEmbedder builds the embedder for the configured provider
func NewEmbedder(cfg *config.LLMConfig, timeout time.Duration) (*Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Loaded embedder config")

	var (
		impl *embeddings.EmbedderImpl
		err  error
	)
	switch cfg.Provider {
	case "ollama":
		llm, lerr := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if lerr != nil {
			return nil, fmt.Errorf("init ollama: %w", lerr)
		}
		impl, err = embeddings.NewEmbedder(llm)
	default:
		llm, lerr := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if lerr != nil {
			return nil, fmt.Errorf("init openai: %w", lerr)
		}
		impl, err = embeddings.NewEmbedder(llm)
	}
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return New(impl, timeout), nil
}

// New wraps an existing langchaingo embedder
func New(e embeddings.Embedder, timeout time.Duration) *Embedder {
	return &Embedder{embedder: e, timeout: timeout}
}

// Embed returns the vector for text. Empty input, an empty vector and
// upstream failures are all ErrEmbedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", models.ErrEmbedding)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty vector returned", models.ErrEmbedding)
	}
	return vector, nil
}

// EmbedChunks embeds every chunk in order and stops at the first failure,
// so a document is never indexed with missing chunks.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := e.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", chunk.ID(), err)
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}
