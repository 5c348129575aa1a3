package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"manual-rag/internal/chromemdb"
	"manual-rag/internal/config"
	"manual-rag/internal/db"
	"manual-rag/internal/embedding"
	"manual-rag/internal/extractor"
	"manual-rag/internal/gemini"
	"manual-rag/internal/helper"
	"manual-rag/internal/indexer"
	"manual-rag/internal/llmservice"
	"manual-rag/internal/models"
	"manual-rag/internal/rag"
	"manual-rag/internal/rasterizer"
	"manual-rag/internal/rerank"
	"manual-rag/internal/retriever"
	"manual-rag/internal/server"
	"manual-rag/internal/speech"
	"manual-rag/internal/synthesizer"
)

const configFilePath = "./configs/config.yaml"

// store is what both vector store backends provide
type store interface {
	indexer.Store
	retriever.Searcher
}

// app holds everything built at startup
type app struct {
	cfg      *config.Config
	session  *rag.Session
	speech   *speech.Client
	chromem  *chromemdb.VectorDBManager
	closers  []func() error
	modified bool
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	query := flag.String("query", "", "Question to be answered")
	language := flag.String("language", "", "Answer language, defaults to the language of the question")
	speak := flag.Bool("speak", false, "Write the spoken answer to answer.mp3")
	stats := flag.Bool("stats", false, "Print index statistics")
	reset := flag.Bool("reset", false, "Delete every indexed record")
	confirm := flag.Bool("confirm", false, "Confirm a destructive operation")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing pipeline")
	}
	defer a.close(context.WithoutCancel(ctx))

	switch {
	case *serve:
		a.serve(ctx)
	case *reset:
		if err := a.session.Reset(ctx, *confirm); err != nil {
			if errors.Is(err, models.ErrResetNotConfirmed) {
				log.Error().Msg("Refusing to reset the index without -confirm")
				return
			}
			log.Error().Err(err).Msg("Error resetting index")
			return
		}
		a.modified = true
		fmt.Println("Index reset")
	case *stats:
		s, err := a.session.Stats(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Error reading index stats")
			return
		}
		helper.PrettyPrint(s)
	case flag.NArg() > 0:
		a.ingest(ctx, flag.Args())
	case *query != "":
		a.ask(ctx, *query, *language, *speak)
	default:
		log.Fatal().Msg("Provide PDF files to ingest, a question with -query, -stats, -reset -confirm or -serve")
	}
}

func setLogLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	timeout := cfg.Timeouts.Request

	vectors, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	ext, err := a.newExtractor(ctx)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, timeout)
	if err != nil {
		return nil, err
	}

	llm, err := llmservice.New(&cfg.ChatLLM, timeout)
	if err != nil {
		return nil, err
	}

	opts := retriever.Options{TopK: cfg.RAG.TopK, CandidateK: cfg.RAG.RerankCandidates, Timeout: timeout}
	var ret *retriever.Retriever
	if cfg.RAG.Rerank {
		ret = retriever.New(vectors, rerank.New(cfg.Rerank, timeout), opts)
	} else {
		ret = retriever.New(vectors, nil, opts)
	}

	components := rag.Components{
		Extractor:   ext,
		Embedder:    embedder,
		Indexer:     indexer.New(vectors, cfg.RAG.BatchSize, timeout),
		Retriever:   ret,
		Synthesizer: synthesizer.New(llm),
	}
	if cfg.Speech.Key != "" {
		a.speech, err = speech.New(cfg.Speech, timeout)
		if err != nil {
			return nil, err
		}
		components.Speaker = a.speech
	}

	pipeline := rag.NewPipeline(components, rag.Options{
		ChunkSize:        cfg.RAG.ChunkSize,
		ChunkOverlap:     cfg.RAG.ChunkOverlap,
		KeepStale:        cfg.RAG.KeepStale,
		EmbedFilterHints: cfg.RAG.EmbedFilterHints,
		Language:         cfg.RAG.Language,
	})
	a.session = rag.NewSession(pipeline, cfg.Uploads.Dir)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (store, error) {
	cfg := a.cfg
	if cfg.VectorStore.Type == config.StorePgvector {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		s := db.NewStore(db.NewDB(sqldb, cfg.Database.Debug), cfg.EmbedLLM.Dimension)
		if err := s.InitDB(ctx); err != nil {
			s.Close()
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	}

	if err := helper.CreateFolder(cfg.VectorStore.Path); err != nil {
		return nil, err
	}
	m, err := chromemdb.NewVectorDBManager(chromemdb.Options{
		Path:          cfg.VectorStore.Path,
		Collection:    cfg.VectorStore.Collection,
		InMemory:      cfg.VectorStore.InMemory,
		Compress:      cfg.VectorStore.Compress,
		EncryptionKey: cfg.VectorStore.EncryptionKey,
		Dimension:     cfg.EmbedLLM.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if cfg.VectorStore.InMemory && cfg.VectorStore.EncryptionKey != "" {
		if err := m.Import(ctx); err != nil {
			return nil, err
		}
		a.chromem = m
	}
	return m, nil
}

func (a *app) newExtractor(ctx context.Context) (*extractor.Extractor, error) {
	cfg := a.cfg.Extraction
	var model extractor.DocumentModel
	var raster extractor.Rasterizer
	if cfg.Strategy != config.StrategyTextLayer {
		g, err := gemini.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		model = g
	}
	// whole-document extraction retries page by page on truncated output
	if cfg.Strategy != config.StrategyTextLayer {
		raster = rasterizer.New(cfg.DPI)
	}
	return extractor.New(cfg, a.cfg.Timeouts.Request, model, raster)
}

// close persists an in-memory store that was changed and releases clients
func (a *app) close(ctx context.Context) {
	if a.chromem != nil && a.modified {
		if err := a.chromem.Export(ctx); err != nil {
			log.Error().Err(err).Msg("Error exporting collection")
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Error closing client")
		}
	}
}

func (a *app) ingest(ctx context.Context, paths []string) {
	uploads := make([]rag.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			log.Error().Err(err).Str("file", p).Msg("Error opening file")
			continue
		}
		defer f.Close()
		uploads = append(uploads, rag.Upload{Name: filepath.Base(p), Reader: f})
	}
	if len(uploads) == 0 {
		return
	}

	state, jobs, err := a.session.IngestBatch(ctx, uploads)
	if err != nil {
		log.Error().Err(err).Msg("Error ingesting files")
		return
	}
	a.modified = true

	log.Info().Str("state", string(state)).Msg("Upload finished ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(jobs)
}

func (a *app) ask(ctx context.Context, query, language string, speak bool) {
	turn, res := a.session.Ask(ctx, rag.Query{Text: query, Language: language, Speak: speak})

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	if !res.Citation.IsEmpty() {
		log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s, page %d\n\n", res.Citation.Source, res.Citation.Page)
	}

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", turn.Content)

	if len(res.Audio) > 0 {
		if err := os.WriteFile("answer.mp3", res.Audio, 0o644); err != nil {
			log.Error().Err(err).Msg("Error writing answer audio")
		}
	}
}

func (a *app) serve(ctx context.Context) {
	var transcriber server.Transcriber
	if a.speech != nil {
		transcriber = a.speech
	}
	// uploads and resets through the API change the store
	a.modified = true

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: server.SetupRouter(server.New(a.session, transcriber), a.cfg.Server.GinMode),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
	}
}
