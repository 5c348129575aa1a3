// Package gemini adapts the Gemini API to the extractor's document model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"manual-rag/internal/config"
	"manual-rag/internal/extractor"
)

type Client struct {
	client *genai.Client
	model  string
	cfg    config.ExtractionConfig
}

func New(ctx context.Context, cfg config.ExtractionConfig) (*Client, error) {
	if cfg.Key == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: cfg.Model, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Upload(ctx context.Context, path string) (extractor.RemoteFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return extractor.RemoteFile{}, err
	}
	defer f.Close()

	file, err := c.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: filepath.Base(path),
		MIMEType:    "application/pdf",
	})
	if err != nil {
		return extractor.RemoteFile{}, err
	}
	return extractor.RemoteFile{Name: file.Name, URI: file.URI, MIMEType: file.MIMEType}, nil
}

func (c *Client) FileState(ctx context.Context, name string) (extractor.FileState, error) {
	file, err := c.client.GetFile(ctx, name)
	if err != nil {
		return extractor.FileFailed, err
	}
	switch file.State {
	case genai.FileStateActive:
		return extractor.FileActive, nil
	case genai.FileStateFailed:
		return extractor.FileFailed, nil
	default:
		return extractor.FileProcessing, nil
	}
}

func (c *Client) DeleteFile(ctx context.Context, name string) error {
	return c.client.DeleteFile(ctx, name)
}

func (c *Client) ExtractDocument(ctx context.Context, file extractor.RemoteFile, prompt string) (extractor.Generation, error) {
	model := c.generativeModel(documentSchema)
	resp, err := model.GenerateContent(ctx,
		genai.FileData{URI: file.URI, MIMEType: file.MIMEType},
		genai.Text(prompt),
	)
	if err != nil {
		return extractor.Generation{}, err
	}
	return generation(resp)
}

func (c *Client) ExtractImage(ctx context.Context, png []byte, prompt string) (extractor.Generation, error) {
	model := c.generativeModel(pageSchema)
	resp, err := model.GenerateContent(ctx, genai.ImageData("png", png), genai.Text(prompt))
	if err != nil {
		return extractor.Generation{}, err
	}
	return generation(resp)
}

func (c *Client) generativeModel(schema *genai.Schema) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0)
	if c.cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.cfg.MaxOutputTokens)
	}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = schema
	return model
}

var pageSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"content": {Type: genai.TypeString},
	},
	Required: []string{"content"},
}

var documentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"pages": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"page_number": {Type: genai.TypeInteger},
					"content":     {Type: genai.TypeString},
				},
				Required: []string{"page_number", "content"},
			},
		},
	},
	Required: []string{"pages"},
}

func generation(resp *genai.GenerateContentResponse) (extractor.Generation, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return extractor.Generation{}, errors.New("empty response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return extractor.Generation{}, fmt.Errorf("no content, finish reason %s", cand.FinishReason)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return extractor.Generation{
		Text:      b.String(),
		Truncated: cand.FinishReason == genai.FinishReasonMaxTokens,
	}, nil
}
