// Package indexer writes embedded chunks to a vector store in batches.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/models"
)

const DefaultBatchSize = 100

// Store is the write side of a vector store
type Store interface {
	Upsert(ctx context.Context, records []models.IndexRecord) error
	DeleteAll(ctx context.Context) error
	// DeleteFrom removes records of source whose chunk index is >= fromIndex
	// and reports how many were removed.
	DeleteFrom(ctx context.Context, source string, fromIndex int) (int, error)
	Stats(ctx context.Context) (models.IndexStats, error)
}

type Indexer struct {
	store     Store
	batchSize int
	timeout   time.Duration
}

func New(store Store, batchSize int, timeout time.Duration) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{store: store, batchSize: batchSize, timeout: timeout}
}

func (ix *Indexer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ix.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ix.timeout)
}

// Upsert pairs chunks and vectors by position and writes them in batches.
// The first failing batch fails the call; earlier batches stay written.
func (ix *Indexer) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", models.ErrIndex, len(chunks), len(vectors))
	}

	records := make([]models.IndexRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = models.NewIndexRecord(chunk, vectors[i])
	}

	for start := 0; start < len(records); start += ix.batchSize {
		end := min(start+ix.batchSize, len(records))
		if err := ix.upsertBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("%w: batch %d-%d: %w", models.ErrIndex, start, end, err)
		}
		log.Debug().Int("from", start).Int("to", end).Msg("Upserted batch")
	}
	return nil
}

func (ix *Indexer) upsertBatch(ctx context.Context, batch []models.IndexRecord) error {
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	return ix.store.Upsert(ctx, batch)
}

// Reset deletes every record. Callers gate this behind confirmation.
func (ix *Indexer) Reset(ctx context.Context) error {
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	if err := ix.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: reset: %w", models.ErrIndex, err)
	}
	return nil
}

// PruneStale removes records of source left over from an earlier ingestion
// that produced more than count chunks.
func (ix *Indexer) PruneStale(ctx context.Context, source string, count int) (int, error) {
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	n, err := ix.store.DeleteFrom(ctx, source, count)
	if err != nil {
		return 0, fmt.Errorf("%w: prune %s: %w", models.ErrIndex, source, err)
	}
	return n, nil
}

func (ix *Indexer) Stats(ctx context.Context) (models.IndexStats, error) {
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	stats, err := ix.store.Stats(ctx)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("%w: stats: %w", models.ErrIndex, err)
	}
	return stats, nil
}
