package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/chunker"
	"manual-rag/internal/helper"
	"manual-rag/internal/models"
	"manual-rag/internal/retriever"
	"manual-rag/internal/synthesizer"
)

type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.Page, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error)
}

type Indexer interface {
	Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	Reset(ctx context.Context) error
	PruneStale(ctx context.Context, source string, count int) (int, error)
	Stats(ctx context.Context) (models.IndexStats, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, vector []float32) ([]models.Match, error)
}

type Synthesizer interface {
	Classify(ctx context.Context, query, language string) (synthesizer.Intent, error)
	Answer(ctx context.Context, req synthesizer.Request) synthesizer.Answer
	FormatHTML(answer string) (string, error)
}

// Speaker renders answers as audio
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Components are the capabilities a Pipeline is built from. They are
// constructed once at startup; Speaker is optional.
type Components struct {
	Extractor   Extractor
	Embedder    Embedder
	Indexer     Indexer
	Retriever   Retriever
	Synthesizer Synthesizer
	Speaker     Speaker
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// KeepStale disables pruning of trailing records left by an earlier,
	// longer ingestion of the same source
	KeepStale        bool
	EmbedFilterHints bool
	// Language overrides the answer language when a query does not set one
	Language string
}

type Pipeline struct {
	c    Components
	opts Options
}

func NewPipeline(c Components, opts Options) *Pipeline {
	return &Pipeline{c: c, opts: opts}
}

// Ingest extracts, chunks, embeds and indexes the PDF at path. name is the
// original file name and determines the source of every record.
// It returns the number of chunks written.
func (p *Pipeline) Ingest(ctx context.Context, path, name string) (int, error) {
	source := helper.SanitizeSource(name)
	logger := log.With().Str("source", source).Logger()

	pages, err := p.c.Extractor.Extract(ctx, path)
	if err != nil {
		return 0, err
	}
	logger.Info().Int("pages", len(pages)).Msg("Extracted pages")

	chunks, err := chunker.Chunk(pages, source, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no text extracted from %s", models.ErrExtraction, source)
	}

	vectors, err := p.c.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if err := p.c.Indexer.Upsert(ctx, chunks, vectors); err != nil {
		return 0, err
	}
	logger.Info().Int("chunks", len(chunks)).Msg("Indexed document")

	if !p.opts.KeepStale {
		n, err := p.c.Indexer.PruneStale(ctx, source, len(chunks))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to prune stale records")
		} else if n > 0 {
			logger.Info().Int("removed", n).Msg("Pruned stale records")
		}
	}
	return len(chunks), nil
}

type Query struct {
	Text string
	// Translation is an English rendition of Text used for retrieval
	Translation string
	Language    string
	Filters     models.Filters
	History     []models.ConversationTurn
	Speak       bool
}

type Result struct {
	Answer   string
	HTML     string
	Citation models.Citation
	Greeting bool
	// Failed marks an apology produced by a failed synthesis
	Failed bool
	Audio  []byte
}

// Ask answers a question. It never fails: retrieval problems degrade to the
// no-context sentinel and synthesis problems to an apology.
func (p *Pipeline) Ask(ctx context.Context, q Query) Result {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Result{Answer: models.EmptyQueryMessage, HTML: models.EmptyQueryMessage}
	}
	language := q.Language
	if language == "" {
		language = p.opts.Language
	}

	intent, err := p.c.Synthesizer.Classify(ctx, text, language)
	if err != nil {
		log.Warn().Err(err).Msg("Intent classification failed, treating as a question")
	} else if intent.IsGreeting {
		res := Result{Answer: intent.Response, Greeting: true}
		return p.finish(ctx, res, q.Speak)
	}

	matches := p.retrieve(ctx, q)
	ans := p.c.Synthesizer.Answer(ctx, synthesizer.Request{
		Query:    text,
		Context:  retriever.BuildContext(matches),
		Matches:  matches,
		History:  q.History,
		Filters:  q.Filters,
		Language: language,
	})
	res := Result{Answer: ans.Text, Citation: ans.Citation, Failed: ans.Failed}
	return p.finish(ctx, res, q.Speak && !ans.Failed)
}

func (p *Pipeline) retrieve(ctx context.Context, q Query) []models.Match {
	search := strings.TrimSpace(q.Translation)
	if search == "" {
		search = strings.TrimSpace(q.Text)
	}
	if p.opts.EmbedFilterHints && !q.Filters.IsEmpty() {
		search += "\n" + q.Filters.String()
	}

	vector, err := p.c.Embedder.Embed(ctx, search)
	if err != nil {
		log.Error().Err(err).Msg("Query embedding failed")
		return nil
	}
	matches, err := p.c.Retriever.Retrieve(ctx, search, vector)
	if err != nil {
		log.Error().Err(err).Msg("Retrieval failed")
		return nil
	}
	log.Debug().Int("matches", len(matches)).Msg("Retrieved context")
	return matches
}

func (p *Pipeline) finish(ctx context.Context, res Result, speak bool) Result {
	html, err := p.c.Synthesizer.FormatHTML(res.Answer)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to format answer")
		html = res.Answer
	}
	res.HTML = html

	if speak && p.c.Speaker != nil {
		audio, err := p.c.Speaker.Synthesize(ctx, res.Answer)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to synthesize answer audio")
		} else {
			res.Audio = audio
		}
	}
	return res
}

// Reset deletes the whole index. Nothing is touched unless confirm is set.
func (p *Pipeline) Reset(ctx context.Context, confirm bool) error {
	if !confirm {
		return models.ErrResetNotConfirmed
	}
	if err := p.c.Indexer.Reset(ctx); err != nil {
		return err
	}
	log.Info().Msg("Index reset")
	return nil
}

func (p *Pipeline) Stats(ctx context.Context) (models.IndexStats, error) {
	return p.c.Indexer.Stats(ctx)
}
