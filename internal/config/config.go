package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StrategyWholeDocument = "whole-document"
	StrategyPerPage       = "per-page"
	StrategyTextLayer     = "text-layer"

	StoreChromem  = "chromem"
	StorePgvector = "pgvector"
)

type Config struct {
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	RAG         RAGConfig         `yaml:"rag"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Speech      SpeechConfig      `yaml:"speech"`
	Uploads     UploadsConfig     `yaml:"uploads"`
	Server      ServerConfig      `yaml:"server"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Log         LogConfig         `yaml:"log"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Key         string  `yaml:"key"`
	Dimension   int     `yaml:"dimension"`
	Temperature float64 `yaml:"temperature"`
}

type ExtractionConfig struct {
	Strategy        string        `yaml:"strategy"`
	Model           string        `yaml:"model"`
	Key             string        `yaml:"key"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
	DPI             float64       `yaml:"dpi"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
}

type VectorStoreConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	Debug    bool   `yaml:"debug"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	TopK             int    `yaml:"top_k"`
	Rerank           bool   `yaml:"rerank"`
	RerankCandidates int    `yaml:"rerank_candidates"`
	BatchSize        int    `yaml:"batch_size"`
	KeepStale        bool   `yaml:"keep_stale"`
	EmbedFilterHints bool   `yaml:"embed_filter_hints"`
	Language         string `yaml:"language"`
}

type RerankConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Key     string `yaml:"key"`
}

type SpeechConfig struct {
	BaseURL            string `yaml:"base_url"`
	Key                string `yaml:"key"`
	TranscriptionModel string `yaml:"transcription_model"`
	SpeechModel        string `yaml:"speech_model"`
	Voice              string `yaml:"voice"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	GinMode string `yaml:"gin_mode"`
}

type TimeoutsConfig struct {
	Request time.Duration `yaml:"request"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		EmbedLLM: LLMConfig{
			Provider:  "openai",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		ChatLLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.3,
		},
		Extraction: ExtractionConfig{
			Strategy:        StrategyWholeDocument,
			Model:           "gemini-2.5-pro",
			PollInterval:    2 * time.Second,
			MaxWait:         5 * time.Minute,
			DPI:             150,
			MaxOutputTokens: 65536,
		},
		VectorStore: VectorStoreConfig{
			Type:       StoreChromem,
			Path:       "./chromemdb",
			Collection: "manuals",
		},
		Database: DatabaseConfig{
			Driver: "pgdriver",
		},
		RAG: RAGConfig{
			ChunkSize:        1000,
			ChunkOverlap:     200,
			TopK:             5,
			RerankCandidates: 15,
			BatchSize:        100,
		},
		Rerank: RerankConfig{
			BaseURL: "https://api.cohere.com",
			Model:   "rerank-v3.5",
		},
		Speech: SpeechConfig{
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "shimmer",
		},
		Uploads:  UploadsConfig{Dir: "./uploads"},
		Server:   ServerConfig{Addr: ":8080", GinMode: "release"},
		Timeouts: TimeoutsConfig{Request: 60 * time.Second},
		Log:      LogConfig{Level: "info"},
	}
}

// LoadConfig reads the yaml file at path on top of the defaults. A missing
// file is not an error. Secrets left empty are taken from the environment,
// after loading .env if one exists.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	setIfEmpty(&c.EmbedLLM.Key, openaiKey)
	setIfEmpty(&c.ChatLLM.Key, openaiKey)
	setIfEmpty(&c.Speech.Key, openaiKey)
	setIfEmpty(&c.Extraction.Key, os.Getenv("GEMINI_API_KEY"))
	setIfEmpty(&c.Rerank.Key, os.Getenv("COHERE_API_KEY"))
	setIfEmpty(&c.Database.URL, os.Getenv("DATABASE_URL"))
	setIfEmpty(&c.VectorStore.EncryptionKey, os.Getenv("VECTOR_STORE_ENCRYPTION_KEY"))
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.RerankCandidates < c.RAG.TopK {
		c.RAG.RerankCandidates = c.RAG.TopK
	}
	if c.RAG.BatchSize <= 0 {
		return fmt.Errorf("rag.batch_size must be positive, got %d", c.RAG.BatchSize)
	}
	switch c.Extraction.Strategy {
	case StrategyWholeDocument, StrategyPerPage, StrategyTextLayer:
	default:
		return fmt.Errorf("unknown extraction strategy %q", c.Extraction.Strategy)
	}
	switch c.VectorStore.Type {
	case StoreChromem:
	case StorePgvector:
		if c.EmbedLLM.Dimension <= 0 {
			return fmt.Errorf("embed_llm.dimension is required for the pgvector store")
		}
	default:
		return fmt.Errorf("unknown vector store %q", c.VectorStore.Type)
	}
	switch c.EmbedLLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbedLLM.Provider)
	}
	return nil
}
