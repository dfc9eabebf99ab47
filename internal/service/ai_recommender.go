package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	"github.com/campuskit/library-api/pkg/config"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIRecommender reorders engine-produced recommendations through an
// external language model. It retries with exponential backoff, switches to
// a fallback model when the primary stays overloaded, and swallows every
// failure: the caller always gets a usable list back.
type AIRecommender struct {
	client        chatCompleter
	model         string
	fallbackModel string
	maxRetries    int
	backoffBase   time.Duration
	sleep         func(context.Context, time.Duration) bool
	logger        *zap.Logger
}

// NewAIRecommender builds the reranker from configuration. Returns nil when
// the feature is disabled or no API key is present, which callers treat as
// "no reranker".
func NewAIRecommender(cfg config.AIConfig, logger *zap.Logger) *AIRecommender {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIRecommender{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         model,
		fallbackModel: cfg.FallbackModel,
		maxRetries:    maxRetries,
		backoffBase:   backoff,
		sleep:         sleepCtx,
		logger:        logger,
	}
}

// Rerank asks the model to reorder the candidate list for the user. On any
// failure the input is returned unchanged with the engine source.
func (r *AIRecommender) Rerank(ctx context.Context, user *models.JWTClaims, items []models.RecommendedBook) ([]models.RecommendedBook, string) {
	if r == nil || len(items) < 2 {
		return items, models.RecommendationSourceEngine
	}

	prompt := r.buildPrompt(user, items)
	content, err := r.complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("ai rerank failed, using engine order", zap.Error(err))
		return items, models.RecommendationSourceEngine
	}

	ordered, ok := applyOrdering(items, content)
	if !ok {
		r.logger.Warn("ai rerank returned unusable ordering, using engine order")
		return items, models.RecommendationSourceEngine
	}
	return ordered, models.RecommendationSourceAssisted
}

func (r *AIRecommender) complete(ctx context.Context, prompt string) (string, error) {
	model := r.model
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "You rank library books for a student. Reply with a JSON array of book ids, best first, nothing else."},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("empty completion")
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		// Last retry: give the fallback model one shot at the overload.
		if attempt == r.maxRetries-1 && r.fallbackModel != "" && model != r.fallbackModel {
			model = r.fallbackModel
		}
		if attempt < r.maxRetries {
			delay := r.backoffBase * time.Duration(1<<(attempt-1))
			if !r.sleep(ctx, delay) {
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

func (r *AIRecommender) buildPrompt(user *models.JWTClaims, items []models.RecommendedBook) string {
	var sb strings.Builder
	sb.WriteString("Candidate books, already roughly ranked:\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- id=%s title=%q author=%q subject=%q score=%.2f\n",
			item.Book.ID, item.Book.Title, item.Book.Author, item.Book.Subject, item.Score)
	}
	if user != nil && user.DepartmentID != nil {
		fmt.Fprintf(&sb, "The student belongs to department %s.\n", *user.DepartmentID)
	}
	sb.WriteString("Return the ids reordered by how interesting each book is for this student.")
	return sb.String()
}

// applyOrdering maps the model's id array back onto the items. Unknown ids
// are dropped, missing ones appended in their original order; an output
// that covers fewer than half the input is rejected.
func applyOrdering(items []models.RecommendedBook, content string) ([]models.RecommendedBook, bool) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &ids); err != nil {
		return nil, false
	}

	byID := make(map[string]models.RecommendedBook, len(items))
	for _, item := range items {
		byID[item.Book.ID] = item
	}
	seen := make(map[string]bool, len(ids))
	ordered := make([]models.RecommendedBook, 0, len(items))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, item)
	}
	if len(ordered)*2 < len(items) {
		return nil, false
	}
	for _, item := range items {
		if !seen[item.Book.ID] {
			ordered = append(ordered, item)
		}
	}
	return ordered, true
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Transport-level failures are worth retrying.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
