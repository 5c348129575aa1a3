// Package retriever finds the chunks nearest to a query and assembles the
// grounding context for synthesis.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/models"
)

// Searcher is the read side of a vector store
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error)
}

// Reranker orders documents by relevance to query and returns indices into documents
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error)
}

type Options struct {
	TopK int
	// CandidateK is the search depth used when reranking
	CandidateK int
	Timeout    time.Duration
}

type Retriever struct {
	store    Searcher
	reranker Reranker
	opts     Options
}

// New builds a retriever. A nil reranker disables the rerank stage.
func New(store Searcher, reranker Reranker, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CandidateK < opts.TopK {
		opts.CandidateK = opts.TopK
	}
	return &Retriever{store: store, reranker: reranker, opts: opts}
}

// Search returns up to topK matches ordered by descending score
func (r *Retriever) Search(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	matches, err := r.store.Query(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRetrieval, err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Retrieve runs the search, reranking a wider candidate set when a reranker is set
func (r *Retriever) Retrieve(ctx context.Context, query string, vector []float32) ([]models.Match, error) {
	if r.reranker == nil {
		return r.Search(ctx, vector, r.opts.TopK)
	}
	candidates, err := r.Search(ctx, vector, r.opts.CandidateK)
	if err != nil {
		return nil, err
	}
	return r.Rerank(ctx, query, candidates, r.opts.TopK), nil
}

// Rerank reorders matches with the reranker and keeps topK. Any failure
// falls back to the first topK matches in their original order.
func (r *Retriever) Rerank(ctx context.Context, query string, matches []models.Match, topK int) []models.Match {
	fallback := matches[:min(topK, len(matches))]
	if r.reranker == nil || len(matches) == 0 {
		return fallback
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Metadata.Text
	}
	indices, err := r.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		log.Warn().Err(err).Msg("Rerank failed, keeping vector order")
		return fallback
	}

	seen := make(map[int]bool, len(indices))
	reranked := make([]models.Match, 0, topK)
	for _, idx := range indices {
		if idx < 0 || idx >= len(matches) || seen[idx] {
			log.Warn().Int("index", idx).Msg("Rerank returned an invalid index, keeping vector order")
			return fallback
		}
		seen[idx] = true
		reranked = append(reranked, matches[idx])
		if len(reranked) == topK {
			break
		}
	}
	if len(reranked) == 0 {
		return fallback
	}
	return reranked
}

// BuildContext formats the matches as grounding blocks. Without matches it
// returns the no-information sentinel, never an empty string.
func BuildContext(matches []models.Match) string {
	if len(matches) == 0 {
		return models.NoContextSentinel
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("[Source: %s, Page: %d, Relevance: %.2f]\n%s",
			m.Metadata.Source, m.Metadata.PageNumber, m.Score, m.Metadata.Text))
	}
	return strings.Join(blocks, models.ContextSeparator)
}
