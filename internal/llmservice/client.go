package llmservice

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"manual-rag/internal/config"
	"manual-rag/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Client is a chat-completion client built once and shared
type Client struct {
	llm         llms.Model
	temperature float64
	timeout     time.Duration
}

func New(llmConfig *config.LLMConfig, timeout time.Duration) (*Client, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating chat client")
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(llm, llmConfig.Temperature, timeout), nil
}

func NewWithModel(llm llms.Model, temperature float64, timeout time.Duration) *Client {
	return &Client{llm: llm, temperature: temperature, timeout: timeout}
}

// call llm
func (c *Client) GenerateContent(ctx context.Context, tools []llms.Tool, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
	}
	return c.llm.GenerateContent(ctx, messages, opts...)
}

// CompleteJSON asks for a JSON object and returns its raw text with any
// reasoning block removed. Callers parse the text themselves.
func (c *Client) CompleteJSON(ctx context.Context, messages []llms.MessageContent) (string, error) {
	res, err := c.GenerateContent(ctx, nil, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(thinkTag.ReplaceAllString(res.Choices[0].Content, "")), nil
}
