// Package speech handles voice questions and spoken answers through the
// OpenAI audio endpoints.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"manual-rag/internal/config"
)

var (
	ErrTranscription = errors.New("transcription error")
	ErrSynthesis     = errors.New("speech synthesis error")
)

// markup drops every tag; the space keeps words from adjacent blocks apart
var markup = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Transcript is a recognized voice question. Translation is the English
// rendition used for retrieval; it equals Text when the speaker used English.
type Transcript struct {
	Text        string `json:"transcript"`
	Translation string `json:"translation"`
	Language    string `json:"lang"`
}

type Client struct {
	client  *openai.Client
	cfg     config.SpeechConfig
	timeout time.Duration
}

func New(cfg config.SpeechConfig, timeout time.Duration) (*Client, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("speech: api key is required")
	}
	oc := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{client: openai.NewClientWithConfig(oc), cfg: cfg, timeout: timeout}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Transcribe converts recorded audio into text and, for non-English speech,
// an English translation.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (Transcript, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: read audio: %w", ErrTranscription, err)
	}
	if len(data) == 0 {
		return Transcript{}, fmt.Errorf("%w: empty audio", ErrTranscription)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	out := Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: strings.ToLower(strings.TrimSpace(resp.Language)),
	}
	if out.Text == "" {
		return Transcript{}, fmt.Errorf("%w: no speech recognized", ErrTranscription)
	}
	if isEnglish(out.Language) {
		out.Translation = out.Text
		return out, nil
	}

	tr, err := c.client.CreateTranslation(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		// the original transcript still answers, only retrieval quality suffers
		log.Warn().Err(err).Str("language", out.Language).Msg("Translation failed, using transcript")
		out.Translation = out.Text
		return out, nil
	}
	out.Translation = strings.TrimSpace(tr.Text)
	if out.Translation == "" {
		out.Translation = out.Text
	}
	return out, nil
}

// Synthesize renders text as mp3 audio. Markup is stripped first.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = plainText(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %w", ErrSynthesis, err)
	}
	return audio, nil
}

func isEnglish(lang string) bool {
	return lang == "" || lang == "en" || lang == "english"
}

// plainText renders an HTML answer as the text a listener should hear
func plainText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(markup.Sanitize(s))), " ")
}
