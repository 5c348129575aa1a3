package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"manual-rag/internal/config"
	"manual-rag/internal/models"
)

type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             string          `bun:"id,pk"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,notnull"`
	SourceFilename string          `bun:"source_filename,notnull"`
	PageNumber     int             `bun:"page_number"`
	ChunkIndex     int             `bun:"chunk_index"`
}

type searchRow struct {
	ID             string  `bun:"id"`
	Content        string  `bun:"content"`
	SourceFilename string  `bun:"source_filename"`
	PageNumber     int     `bun:"page_number"`
	ChunkIndex     int     `bun:"chunk_index"`
	Score          float64 `bun:"score"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or lib/pq when driver is "pq"
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.URL)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Store keeps index records in a pgvector table
type Store struct {
	db        *bun.DB
	dimension int
}

func NewStore(db *bun.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

// InitDB creates the vector extension, the documents table and its index
func (s *Store) InitDB(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id text PRIMARY KEY,
	content text NOT NULL,
	embedding vector(%d) NOT NULL,
	source_filename text NOT NULL,
	page_number integer,
	chunk_index integer
)`, s.dimension),
		"CREATE INDEX IF NOT EXISTS documents_source_idx ON documents (source_filename, chunk_index)",
		"CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init db: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toDocuments(records []models.IndexRecord) []Document {
	docs := make([]Document, len(records))
	for i, rec := range records {
		docs[i] = Document{
			ID:             rec.ID,
			Content:        rec.Metadata.Text,
			Embedding:      pgvector.NewVector(rec.Vector),
			SourceFilename: rec.Metadata.Source,
			PageNumber:     rec.Metadata.PageNumber,
			ChunkIndex:     rec.Metadata.ChunkIndex,
		}
	}
	return docs
}

func (r searchRow) match() models.Match {
	return models.Match{
		ID:    r.ID,
		Score: float32(r.Score),
		Metadata: models.Metadata{
			Text:       r.Content,
			Source:     r.SourceFilename,
			ChunkIndex: r.ChunkIndex,
			PageNumber: r.PageNumber,
		},
	}
}

// Upsert inserts records, overwriting rows with the same id
func (s *Store) Upsert(ctx context.Context, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := toDocuments(records)
	_, err := s.upsertQuery(&docs).Exec(ctx)
	return err
}

func (s *Store) upsertQuery(docs *[]Document) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(docs).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Set("source_filename = EXCLUDED.source_filename").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_index = EXCLUDED.chunk_index")
}

// Query returns the topK rows closest by cosine distance, score = cosine similarity
func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	var rows []searchRow
	if err := s.searchQuery(vector, topK).Scan(ctx, &rows); err != nil {
		return nil, err
	}

	matches := make([]models.Match, len(rows))
	for i, row := range rows {
		matches[i] = row.match()
	}
	return matches, nil
}

func (s *Store) searchQuery(vector []float32, topK int) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	return s.db.NewSelect().
		Model((*Document)(nil)).
		Column("id", "content", "source_filename", "page_number", "chunk_index").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		OrderExpr("embedding <=> ?", vec).
		Limit(topK)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.NewTruncateTable().Model((*Document)(nil)).Exec(ctx)
	return err
}

func (s *Store) DeleteFrom(ctx context.Context, source string, fromIndex int) (int, error) {
	res, err := s.deleteFromQuery(source, fromIndex).Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) deleteFromQuery(source string, fromIndex int) *bun.DeleteQuery {
	return s.db.NewDelete().
		Model((*Document)(nil)).
		Where("source_filename = ?", source).
		Where("chunk_index >= ?", fromIndex)
}

func (s *Store) Stats(ctx context.Context) (models.IndexStats, error) {
	count, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return models.IndexStats{}, err
	}
	return models.IndexStats{TotalVectorCount: count, Dimension: s.dimension}, nil
}
