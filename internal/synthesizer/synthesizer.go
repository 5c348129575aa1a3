// Package synthesizer gates small talk and turns retrieved context into a
// cited answer.
package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"manual-rag/internal/models"
)

const defaultHistoryTurns = 10

// Completer is a chat-completion capability in JSON mode
type Completer interface {
	CompleteJSON(ctx context.Context, messages []llms.MessageContent) (string, error)
}

type Synthesizer struct {
	llm          Completer
	historyTurns int
	md           goldmark.Markdown
}

func New(llm Completer) *Synthesizer {
	return &Synthesizer{
		llm:          llm,
		historyTurns: defaultHistoryTurns,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps(), html.WithUnsafe()),
		),
	}
}

type Intent struct {
	IsGreeting bool   `json:"is_greeting"`
	Response   string `json:"response"`
}

// Classify decides whether query is small talk
func (s *Synthesizer) Classify(ctx context.Context, query, language string) (Intent, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(intentPrompt, languageRule(language))),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	}
	raw, err := s.llm.CompleteJSON(ctx, messages)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: classify: %w", models.ErrSynthesis, err)
	}

	var out struct {
		IsGreeting *bool  `json:"is_greeting"`
		Response   string `json:"response"`
	}
	if err := decodeStrict(raw, &out); err != nil {
		return Intent{}, fmt.Errorf("%w: classify: %w", models.ErrSynthesis, err)
	}
	if out.IsGreeting == nil {
		return Intent{}, fmt.Errorf("%w: classify: missing is_greeting", models.ErrSynthesis)
	}
	intent := Intent{IsGreeting: *out.IsGreeting, Response: strings.TrimSpace(out.Response)}
	if intent.IsGreeting && intent.Response == "" {
		return Intent{}, fmt.Errorf("%w: classify: greeting without response", models.ErrSynthesis)
	}
	return intent, nil
}

type Request struct {
	Query    string
	Context  string
	Matches  []models.Match
	History  []models.ConversationTurn
	Filters  models.Filters
	Language string
}

type Answer struct {
	Text     string
	Citation models.Citation
	// Failed marks the apology returned when synthesis did not succeed
	Failed bool
}

// Answer synthesizes a grounded answer. It never fails: any model error
// yields the apology text with an empty citation.
func (s *Synthesizer) Answer(ctx context.Context, req Request) Answer {
	ans, err := s.answer(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("Synthesis failed")
		return Answer{Text: models.ApologyMessage, Failed: true}
	}
	return ans
}

func (s *Synthesizer) answer(ctx context.Context, req Request) (Answer, error) {
	raw, err := s.llm.CompleteJSON(ctx, s.answerMessages(req))
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", models.ErrSynthesis, err)
	}

	var out struct {
		Answer   *string          `json:"answer"`
		Metadata *models.Citation `json:"metadata"`
	}
	if err := decodeStrict(raw, &out); err != nil {
		return Answer{}, fmt.Errorf("%w: %w", models.ErrSynthesis, err)
	}
	if out.Answer == nil || strings.TrimSpace(*out.Answer) == "" {
		return Answer{}, fmt.Errorf("%w: empty answer", models.ErrSynthesis)
	}

	var cited models.Citation
	if out.Metadata != nil {
		cited = *out.Metadata
	}
	return Answer{
		Text:     strings.TrimSpace(*out.Answer),
		Citation: groundCitation(cited, req),
	}, nil
}

func (s *Synthesizer) answerMessages(req Request) []llms.MessageContent {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(answerPrompt, languageRule(req.Language))),
	}

	history := req.History
	if len(history) > s.historyTurns {
		history = history[len(history)-s.historyTurns:]
	}
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context:\n%s\n\n", req.Context)
	if !req.Filters.IsEmpty() {
		fmt.Fprintf(&b, "Equipment: %s\n\n", req.Filters)
	}
	fmt.Fprintf(&b, "Question: %s", req.Query)
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, b.String()))
}

// groundCitation keeps the model's citation only if it names a retrieved
// chunk; everything else becomes the empty citation.
func groundCitation(c models.Citation, req Request) models.Citation {
	if c.IsEmpty() || req.Context == models.NoContextSentinel {
		return models.Citation{}
	}
	for _, m := range req.Matches {
		if m.Metadata.Source == c.Source && m.Metadata.PageNumber == c.Page {
			return c
		}
	}
	log.Warn().Str("source", c.Source).Int("page", c.Page).Msg("Dropping citation not found in retrieved context")
	return models.Citation{}
}

// FormatHTML renders the markdown parts of an answer to HTML, keeping the
// inline HTML the model already used
func (s *Synthesizer) FormatHTML(answer string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(answer), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func languageRule(language string) string {
	if language = strings.TrimSpace(language); language != "" {
		return fmt.Sprintf(languageOverride, language)
	}
	return languageMirror
}

func decodeStrict(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if raw == "" {
		return errors.New("empty completion")
	}
	return json.Unmarshal([]byte(raw), v)
}
