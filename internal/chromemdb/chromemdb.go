package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"manual-rag/internal/models"
)

// metadata keys, chromem stores metadata as strings
const (
	keyText       = "text"
	keySource     = "source"
	keyChunkIndex = "chunk_index"
	keyPageNumber = "page_number"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	compress       bool
	encryptionKey  string
	filePath       string
	dimension      int
	dimensionSaved bool
}

// storeInfo is kept next to the collection files. chromem cannot list
// documents, so a reopened store learns its vector dimension from here.
type storeInfo struct {
	Dimension int `yaml:"dimension"`
}

// Options configures NewVectorDBManager
type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	Compress      bool
	EncryptionKey string
	// Dimension is reported by Stats until the first vector is written
	Dimension int
}

// documents always carry their embedding, so the collection never embeds text itself
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must be added with an embedding")
}

// NewVectorDBManager opens the database and its collection
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: opts.Collection,
		dbPath:         opts.Path,
		compress:       opts.Compress,
		encryptionKey:  opts.EncryptionKey,
		filePath:       filepath.Join(opts.Path, opts.Collection+".chromem"),
		dimension:      opts.Dimension,
	}
	if _, err := m.GetOrCreateCollection(); err != nil {
		return nil, err
	}
	m.loadDimension()
	return m, nil
}

func (m *VectorDBManager) infoPath() string {
	return filepath.Join(m.dbPath, m.collectionName+".yaml")
}

// loadDimension restores the dimension of a non-empty collection
func (m *VectorDBManager) loadDimension() {
	if m.dbPath == "" || m.collection.Count() == 0 {
		return
	}
	b, err := os.ReadFile(m.infoPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", m.infoPath()).Msg("Failed to read store info")
		}
		return
	}
	var info storeInfo
	if err := yaml.Unmarshal(b, &info); err != nil {
		log.Warn().Err(err).Str("file", m.infoPath()).Msg("Failed to parse store info")
		return
	}
	if info.Dimension > 0 {
		m.dimension = info.Dimension
		m.dimensionSaved = true
	}
}

func (m *VectorDBManager) saveDimension() error {
	if m.dbPath == "" {
		return nil
	}
	b, err := yaml.Marshal(storeInfo{Dimension: m.dimension})
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.infoPath(), b, 0o600); err != nil {
		return err
	}
	m.dimensionSaved = true
	return nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection() (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Upsert adds or overwrites records by id
func (m *VectorDBManager) Upsert(ctx context.Context, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Metadata.Text,
			Metadata:  toMetadata(rec.Metadata),
			Embedding: rec.Vector,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	if dim := len(records[0].Vector); dim != m.dimension || !m.dimensionSaved {
		m.dimension = dim
		if err := m.saveDimension(); err != nil {
			log.Warn().Err(err).Msg("Failed to save store info")
		}
	}
	return nil
}

// Query returns up to topK nearest records, most similar first
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	// chromem rejects nResults larger than the collection
	n := min(topK, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, res := range results {
		matches = append(matches, models.Match{
			ID:       res.ID,
			Score:    res.Similarity,
			Metadata: fromMetadata(res.Metadata, res.Content),
		})
	}
	return matches, nil
}

// DeleteAll drops the collection and starts an empty one
func (m *VectorDBManager) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection()
	return err
}

// DeleteFrom removes the chunks of source numbered fromIndex and up. Chunk
// indexes of one ingestion are contiguous, so the walk stops at the first gap.
func (m *VectorDBManager) DeleteFrom(ctx context.Context, source string, fromIndex int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for i := fromIndex; ; i++ {
		id := models.ChunkID(source, i)
		if _, err := m.collection.GetByID(ctx, id); err != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete stale documents: %w", err)
	}
	return len(ids), nil
}

// Stats reports the record count and vector dimension
func (m *VectorDBManager) Stats(ctx context.Context) (models.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.IndexStats{
		TotalVectorCount: m.collection.Count(),
		Dimension:        m.dimension,
	}, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Export writes the collection to an encrypted file under the db path
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	log.Debug().
		Str("collection", m.collectionName).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection written by Export. A missing file is not an error.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the import replaces the collection object
	if _, err := m.GetOrCreateCollection(); err != nil {
		return err
	}
	m.loadDimension()
	log.Info().Str("file", m.filePath).Int("documents", m.collection.Count()).Msg("Imported collection")
	return nil
}

func toMetadata(md models.Metadata) map[string]string {
	return map[string]string{
		keyText:       md.Text,
		keySource:     md.Source,
		keyChunkIndex: strconv.Itoa(md.ChunkIndex),
		keyPageNumber: strconv.Itoa(md.PageNumber),
	}
}

func fromMetadata(md map[string]string, content string) models.Metadata {
	out := models.Metadata{
		Text:   md[keyText],
		Source: md[keySource],
	}
	if out.Text == "" {
		out.Text = content
	}
	out.ChunkIndex, _ = strconv.Atoi(md[keyChunkIndex])
	out.PageNumber, _ = strconv.Atoi(md[keyPageNumber])
	return out
}
