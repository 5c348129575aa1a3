// Package rerank orders retrieved passages with the Cohere rerank API.
package rerank

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"manual-rag/internal/config"
)

const defaultBaseURL = "https://api.cohere.com"

type Client struct {
	co      *cohereclient.Client
	model   string
	hasKey  bool
	timeout time.Duration
}

func New(cfg config.RerankConfig, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		co: cohereclient.NewClient(
			cohereclient.WithToken(cfg.Key),
			cohereclient.WithBaseURL(strings.TrimRight(baseURL, "/")),
			cohereclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		model:   cfg.Model,
		hasKey:  cfg.Key != "",
		timeout: timeout,
	}
}

// Rerank returns indices into documents, most relevant first, at most topN
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error) {
	if !c.hasKey {
		return nil, errors.New("rerank api key is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.co.V2.Rerank(ctx, &cohere.V2RerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      &topN,
	})
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		indices = append(indices, r.Index)
	}
	return indices, nil
}
