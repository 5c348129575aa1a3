package models

import "fmt"

// Page is one physical page of a source document, numbered from 1.
type Page struct {
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
}

// Chunk represents a page-scoped window of extracted text
type Chunk struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// ID returns the deterministic record id of the chunk
func (c Chunk) ID() string {
	return ChunkID(c.Source, c.ChunkIndex)
}

// ChunkID builds the record id for the chunk at index of source
func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", source, index)
}

// Metadata is stored next to every vector
type Metadata struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber int    `json:"page_number"`
}

// IndexRecord is the persisted unit in the vector store
type IndexRecord struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

// NewIndexRecord pairs a chunk with its embedding
func NewIndexRecord(c Chunk, vector []float32) IndexRecord {
	return IndexRecord{
		ID:     c.ID(),
		Vector: vector,
		Metadata: Metadata{
			Text:       c.Text,
			Source:     c.Source,
			ChunkIndex: c.ChunkIndex,
			PageNumber: c.PageNumber,
		},
	}
}

// Match is a single search hit, best first
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// IndexStats describes the vector store contents
type IndexStats struct {
	TotalVectorCount int `json:"total_vector_count"`
	Dimension        int `json:"dimension"`
}
