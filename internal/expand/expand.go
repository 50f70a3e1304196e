// Package expand generates long-form article text from stored headline
// metadata via the OpenAI chat completions API.
package expand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/newsline/backend/internal/models"
)

const systemPrompt = "You are a news writer. Expand the provided headline and summary " +
	"into a complete, neutral news article of several paragraphs. Do not invent " +
	"quotes or facts that contradict the summary."

// Service wraps an OpenAI client with the article-expansion prompt.
type Service struct {
	client openai.Client
	model  string
	log    *slog.Logger
}

// New builds a Service. baseURL overrides the API endpoint when a proxy
// is configured; leave it empty for the default.
func New(apiKey, baseURL, model string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Service{
		client: openai.NewClient(opts...),
		model:  model,
		log:    logger,
	}
}

// Expand returns generated article text for the given stored article.
func (s *Service) Expand(ctx context.Context, article models.Article) (string, error) {
	prompt := fmt.Sprintf("Headline: %s\nSummary: %s\nSource: %s\nDate: %s",
		article.Title, article.Description, article.Source, article.Date)

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("completion returned no content")
	}

	s.log.Debug("article expanded", slog.String("link", article.Link), slog.Int("chars", len(content)))
	return content, nil
}
