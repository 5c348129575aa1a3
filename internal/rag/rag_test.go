package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"manual-rag/internal/models"
	"manual-rag/internal/synthesizer"
)

type stubExtractor struct {
	seen []string
}

func (s *stubExtractor) Extract(_ context.Context, path string) ([]models.Page, error) {
	s.seen = append(s.seen, path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, "bad") || strings.Contains(name, "_bad") {
		return nil, models.ErrExtraction
	}
	if strings.Contains(name, "blank") {
		return []models.Page{{PageNumber: 1}}, nil
	}
	return []models.Page{
		{PageNumber: 1, Content: "Descale the machine monthly."},
		{PageNumber: 2, Content: "Unplug before cleaning."},
	}, nil
}

type stubEmbedder struct {
	calls   int
	texts   []string
	failing bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	s.texts = append(s.texts, text)
	if s.failing {
		return nil, models.ErrEmbedding
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		v, err := s.Embed(ctx, c.Text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type stubIndexer struct {
	upserted []models.Chunk
	pruned   map[string]int
	resets   int
	err      error
}

func (s *stubIndexer) Upsert(_ context.Context, chunks []models.Chunk, _ [][]float32) error {
	if s.err != nil {
		return s.err
	}
	s.upserted = append(s.upserted, chunks...)
	return nil
}

func (s *stubIndexer) Reset(context.Context) error {
	s.resets++
	return s.err
}

func (s *stubIndexer) PruneStale(_ context.Context, source string, count int) (int, error) {
	if s.pruned == nil {
		s.pruned = map[string]int{}
	}
	s.pruned[source] = count
	return 0, nil
}

func (s *stubIndexer) Stats(context.Context) (models.IndexStats, error) {
	return models.IndexStats{TotalVectorCount: len(s.upserted), Dimension: 2}, nil
}

type stubRetriever struct {
	calls   int
	matches []models.Match
	err     error
}

func (s *stubRetriever) Retrieve(context.Context, string, []float32) ([]models.Match, error) {
	s.calls++
	return s.matches, s.err
}

type stubSynthesizer struct {
	intent   synthesizer.Intent
	classErr error
	answer   synthesizer.Answer
	requests []synthesizer.Request
}

func (s *stubSynthesizer) Classify(context.Context, string, string) (synthesizer.Intent, error) {
	return s.intent, s.classErr
}

func (s *stubSynthesizer) Answer(_ context.Context, req synthesizer.Request) synthesizer.Answer {
	s.requests = append(s.requests, req)
	return s.answer
}

func (s *stubSynthesizer) FormatHTML(answer string) (string, error) {
	return "<p>" + answer + "</p>", nil
}

type stubSpeaker struct {
	calls int
}

func (s *stubSpeaker) Synthesize(context.Context, string) ([]byte, error) {
	s.calls++
	return []byte("mp3"), nil
}

type fixture struct {
	extractor *stubExtractor
	embedder  *stubEmbedder
	indexer   *stubIndexer
	retriever *stubRetriever
	synth     *stubSynthesizer
	speaker   *stubSpeaker
	pipeline  *Pipeline
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		extractor: &stubExtractor{},
		embedder:  &stubEmbedder{},
		indexer:   &stubIndexer{},
		retriever: &stubRetriever{},
		synth:     &stubSynthesizer{answer: synthesizer.Answer{Text: "Descale monthly."}},
		speaker:   &stubSpeaker{},
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize, opts.ChunkOverlap = 1000, 200
	}
	f.pipeline = NewPipeline(Components{
		Extractor:   f.extractor,
		Embedder:    f.embedder,
		Indexer:     f.indexer,
		Retriever:   f.retriever,
		Synthesizer: f.synth,
		Speaker:     f.speaker,
	}, opts)
	return f
}

func writeTemp(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	return path
}

func TestIngestIndexesAndPrunes(t *testing.T) {
	f := newFixture(Options{})
	n, err := f.pipeline.Ingest(context.Background(), writeTemp(t, "m.pdf"), "Coffee Maker.pdf")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, f.indexer.upserted, 2)
	require.Equal(t, "Coffee_Maker.pdf_chunk_1", f.indexer.upserted[1].ID())
	require.Equal(t, 2, f.indexer.upserted[1].PageNumber)
	require.Equal(t, map[string]int{"Coffee_Maker.pdf": 2}, f.indexer.pruned)
}

func TestIngestKeepStaleSkipsPrune(t *testing.T) {
	f := newFixture(Options{KeepStale: true})
	_, err := f.pipeline.Ingest(context.Background(), writeTemp(t, "m.pdf"), "m.pdf")
	require.NoError(t, err)
	require.Nil(t, f.indexer.pruned)
}

func TestIngestEmbeddingFailureAbortsDocument(t *testing.T) {
	f := newFixture(Options{})
	f.embedder.failing = true
	_, err := f.pipeline.Ingest(context.Background(), writeTemp(t, "m.pdf"), "m.pdf")
	require.ErrorIs(t, err, models.ErrEmbedding)
	require.Empty(t, f.indexer.upserted)
	require.Nil(t, f.indexer.pruned)
}

func TestIngestBlankDocument(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.pipeline.Ingest(context.Background(), writeTemp(t, "blank.pdf"), "blank.pdf")
	require.ErrorIs(t, err, models.ErrExtraction)
	require.Zero(t, f.embedder.calls)
}

func TestAskEmptyQuery(t *testing.T) {
	f := newFixture(Options{})
	res := f.pipeline.Ask(context.Background(), Query{Text: "  \n"})
	require.Equal(t, models.EmptyQueryMessage, res.Answer)
	require.True(t, res.Citation.IsEmpty())
	require.Zero(t, f.embedder.calls)
	require.Empty(t, f.synth.requests)
}

func TestAskGreetingSkipsRetrieval(t *testing.T) {
	f := newFixture(Options{})
	f.synth.intent = synthesizer.Intent{IsGreeting: true, Response: "Hi! Ask me about your manuals."}

	res := f.pipeline.Ask(context.Background(), Query{Text: "hello"})
	require.True(t, res.Greeting)
	require.Equal(t, "Hi! Ask me about your manuals.", res.Answer)
	require.True(t, res.Citation.IsEmpty())
	require.Zero(t, f.embedder.calls)
	require.Zero(t, f.retriever.calls)
	require.Empty(t, f.synth.requests)
}

func TestAskClassifierFailureTreatedAsQuestion(t *testing.T) {
	f := newFixture(Options{})
	f.synth.classErr = models.ErrSynthesis

	res := f.pipeline.Ask(context.Background(), Query{Text: "how to descale"})
	require.False(t, res.Greeting)
	require.Equal(t, 1, f.retriever.calls)
	require.Len(t, f.synth.requests, 1)
	require.Equal(t, "<p>Descale monthly.</p>", res.HTML)
}

func TestAskRetrievalFailureUsesSentinel(t *testing.T) {
	f := newFixture(Options{})
	f.retriever.err = models.ErrRetrieval

	f.pipeline.Ask(context.Background(), Query{Text: "how to descale"})
	require.Len(t, f.synth.requests, 1)
	require.Equal(t, models.NoContextSentinel, f.synth.requests[0].Context)
	require.Empty(t, f.synth.requests[0].Matches)
}

func TestAskEmbeddingFailureUsesSentinel(t *testing.T) {
	f := newFixture(Options{})
	f.embedder.failing = true

	f.pipeline.Ask(context.Background(), Query{Text: "how to descale"})
	require.Zero(t, f.retriever.calls)
	require.Equal(t, models.NoContextSentinel, f.synth.requests[0].Context)
}

func TestAskUsesTranslationAndFilterHints(t *testing.T) {
	f := newFixture(Options{EmbedFilterHints: true, Language: "German"})
	f.retriever.matches = []models.Match{{ID: "m.pdf_chunk_0", Score: 0.9, Metadata: models.Metadata{Text: "Descale monthly.", Source: "m.pdf", PageNumber: 1}}}

	f.pipeline.Ask(context.Background(), Query{
		Text:        "Wie entkalke ich?",
		Translation: "How do I descale?",
		Filters:     models.Filters{Brand: "Acme"},
	})
	require.Equal(t, []string{"How do I descale?\nBrand: Acme"}, f.embedder.texts)
	req := f.synth.requests[0]
	require.Equal(t, "Wie entkalke ich?", req.Query)
	require.Equal(t, "German", req.Language)
	require.Contains(t, req.Context, "[Source: m.pdf, Page: 1, Relevance: 0.90]")
}

func TestAskSpeaksOnlySuccessfulAnswers(t *testing.T) {
	f := newFixture(Options{})
	res := f.pipeline.Ask(context.Background(), Query{Text: "how to descale", Speak: true})
	require.Equal(t, []byte("mp3"), res.Audio)

	f.synth.answer = synthesizer.Answer{Text: models.ApologyMessage, Failed: true}
	res = f.pipeline.Ask(context.Background(), Query{Text: "how to descale", Speak: true})
	require.Nil(t, res.Audio)
	require.Equal(t, 1, f.speaker.calls)
}

func TestResetRequiresConfirmation(t *testing.T) {
	f := newFixture(Options{})
	require.ErrorIs(t, f.pipeline.Reset(context.Background(), false), models.ErrResetNotConfirmed)
	require.Zero(t, f.indexer.resets)

	require.NoError(t, f.pipeline.Reset(context.Background(), true))
	require.Equal(t, 1, f.indexer.resets)

	f.indexer.err = errors.New("store down")
	require.Error(t, f.pipeline.Reset(context.Background(), true))
}
