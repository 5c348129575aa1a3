// Package extractor turns a PDF into ordered page texts, using a
// document-understanding model or the PDF's own text layer.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/config"
	"manual-rag/internal/models"
)

// errTruncated marks a whole-document answer cut off at the output limit
var errTruncated = errors.New("response truncated at the output limit")

type FileState int

const (
	FileProcessing FileState = iota
	FileActive
	FileFailed
)

// RemoteFile is a PDF uploaded to the document model
type RemoteFile struct {
	Name     string
	URI      string
	MIMEType string
}

// Generation is the raw structured output of one model call
type Generation struct {
	Text string
	// Truncated reports that the model stopped at its output limit
	Truncated bool
}

// DocumentModel is the document-understanding capability
type DocumentModel interface {
	Upload(ctx context.Context, path string) (RemoteFile, error)
	FileState(ctx context.Context, name string) (FileState, error)
	DeleteFile(ctx context.Context, name string) error
	// ExtractDocument answers with {"pages": [{"page_number", "content"}]}
	ExtractDocument(ctx context.Context, file RemoteFile, prompt string) (Generation, error)
	// ExtractImage answers with {"content"} for one PNG page image
	ExtractImage(ctx context.Context, png []byte, prompt string) (Generation, error)
}

// Rasterizer renders PDF pages to PNG, calling fn once per page in order
type Rasterizer interface {
	EachPage(path string, fn func(pageNumber int, png []byte) error) error
}

type Extractor struct {
	strategy     string
	model        DocumentModel
	rasterizer   Rasterizer
	pollInterval time.Duration
	maxWait      time.Duration
	timeout      time.Duration
}

// New builds an extractor for cfg.Strategy. model and rasterizer may be nil
// when the chosen strategy does not use them. A rasterizer given with the
// whole-document strategy is used to retry page by page when the model's
// answer is truncated.
func New(cfg config.ExtractionConfig, timeout time.Duration, model DocumentModel, rasterizer Rasterizer) (*Extractor, error) {
	switch cfg.Strategy {
	case config.StrategyWholeDocument:
		if model == nil {
			return nil, errors.New("whole-document extraction needs a document model")
		}
	case config.StrategyPerPage:
		if model == nil || rasterizer == nil {
			return nil, errors.New("per-page extraction needs a document model and a rasterizer")
		}
	case config.StrategyTextLayer:
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", cfg.Strategy)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Extractor{
		strategy:     cfg.Strategy,
		model:        model,
		rasterizer:   rasterizer,
		pollInterval: pollInterval,
		maxWait:      cfg.MaxWait,
		timeout:      timeout,
	}, nil
}

// Extract returns the pages of the PDF at path ordered by page number
func (e *Extractor) Extract(ctx context.Context, path string) ([]models.Page, error) {
	var (
		pages []models.Page
		err   error
	)
	switch e.strategy {
	case config.StrategyPerPage:
		pages, err = e.extractPerPage(ctx, path)
	case config.StrategyTextLayer:
		pages, err = extractTextLayer(path)
	default:
		pages, err = e.extractWholeDocument(ctx, path)
		if errors.Is(err, errTruncated) && e.rasterizer != nil {
			log.Warn().Err(err).Str("file", path).Msg("Whole-document output truncated, extracting page by page")
			pages, err = e.extractPerPage(ctx, path)
		}
	}
	if err != nil {
		if errors.Is(err, models.ErrExtraction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	return normalizePages(pages), nil
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

type documentResult struct {
	Pages []models.Page `json:"pages"`
}

type pageResult struct {
	Content *string `json:"content"`
}

func (e *Extractor) extractWholeDocument(ctx context.Context, path string) ([]models.Page, error) {
	uctx, cancel := e.withTimeout(ctx)
	file, err := e.model.Upload(uctx, path)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer e.deleteRemote(ctx, file)

	if err := e.waitActive(ctx, file); err != nil {
		return nil, err
	}

	gctx, cancel := e.withTimeout(ctx)
	gen, err := e.model.ExtractDocument(gctx, file, wholeDocumentPrompt)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var result documentResult
	if err := json.Unmarshal([]byte(stripCodeFence(gen.Text)), &result); err != nil {
		if gen.Truncated {
			return nil, fmt.Errorf("%w: %w", errTruncated, err)
		}
		return nil, fmt.Errorf("malformed structured output: %w", err)
	}
	if result.Pages == nil {
		return nil, errors.New("structured output has no pages field")
	}
	for _, p := range result.Pages {
		if p.PageNumber < 1 {
			return nil, fmt.Errorf("invalid page_number %d", p.PageNumber)
		}
	}
	return result.Pages, nil
}

// waitActive polls the upload until it is processed, for at most maxWait.
// State lookup errors are retried; the last one is reported on timeout.
func (e *Extractor) waitActive(ctx context.Context, file RemoteFile) error {
	if e.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.maxWait)
		defer cancel()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		state, err := e.model.FileState(ctx, file.Name)
		switch {
		case err != nil:
			lastErr = err
			log.Warn().Err(err).Str("file", file.Name).Msg("Failed to read upload state, retrying")
		case state == FileActive:
			return nil
		case state == FileFailed:
			return fmt.Errorf("%w: %w: %s", models.ErrExtraction, models.ErrProcessingFailed, file.Name)
		default:
			lastErr = nil
			log.Debug().Str("file", file.Name).Msg("Waiting for upload to be processed")
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("file state: %w", lastErr)
			}
			return fmt.Errorf("waiting for %s: %w", file.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Extractor) deleteRemote(ctx context.Context, file RemoteFile) {
	dctx, cancel := e.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.model.DeleteFile(dctx, file.Name); err != nil {
		log.Warn().Err(err).Str("file", file.Name).Msg("Failed to delete remote upload")
	}
}

func (e *Extractor) extractPerPage(ctx context.Context, path string) ([]models.Page, error) {
	var (
		pages     []models.Page
		attempted int
	)
	err := e.rasterizer.EachPage(path, func(pageNumber int, png []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempted++

		content, err := e.extractPage(ctx, png)
		if err != nil {
			log.Warn().Err(err).Int("page", pageNumber).Msg("Skipping page")
			return nil
		}
		pages = append(pages, models.Page{PageNumber: pageNumber, Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	if attempted > 0 && len(pages) == 0 {
		return nil, fmt.Errorf("all %d pages failed", attempted)
	}
	return pages, nil
}

func (e *Extractor) extractPage(ctx context.Context, png []byte) (string, error) {
	gctx, cancel := e.withTimeout(ctx)
	gen, err := e.model.ExtractImage(gctx, png, pageImagePrompt)
	cancel()
	if err != nil {
		return "", err
	}

	var result pageResult
	if err := RepairJSON(gen.Text, &result); err != nil {
		return "", err
	}
	if result.Content == nil {
		return "", errors.New("structured output has no content field")
	}
	return *result.Content, nil
}

// normalizePages sorts by page number and keeps the first entry of a
// repeated page number
func normalizePages(pages []models.Page) []models.Page {
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].PageNumber < pages[j].PageNumber
	})
	out := pages[:0]
	for _, p := range pages {
		if n := len(out); n > 0 && out[n-1].PageNumber == p.PageNumber {
			log.Warn().Int("page", p.PageNumber).Msg("Dropping duplicate page")
			continue
		}
		p.Content = strings.TrimSpace(p.Content)
		out = append(out, p)
	}
	return out
}
