package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/prompts"
)

// Scorer grades one submission per call.
// Implementations are synchronous and hold no concurrency policy of their own.
type Scorer interface {
	Score(ctx context.Context, task domain.GradingTask) (*domain.GradingResult, error)
}

// ChatScorer grades submissions through an OpenAI-compatible chat completion endpoint.
type ChatScorer struct {
	client      *resty.Client
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	scoreRange  ScoreRange
	system      string
}

// ScoringConfig holds configuration for the chat scorer.
type ScoringConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	ScoreMin    float64
	ScoreMax    float64
}

// NewChatScorer creates a new chat scorer.
// Parameters:
//   - cfg: endpoint, credentials, model and score range.
//
// Returns:
//   - *ChatScorer: initialized scorer.
func NewChatScorer(cfg *ScoringConfig) *ChatScorer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	rng := ScoreRange{Min: cfg.ScoreMin, Max: cfg.ScoreMax}
	if rng.Min >= rng.Max {
		rng = DefaultScoreRange
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	return &ChatScorer{
		client:      client,
		model:       cfg.Model,
		endpoint:    baseURL + "/chat/completions",
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		scoreRange:  rng,
		system:      prompts.BuildGradingSystemPrompt(rng.Min, rng.Max),
	}
}

// GetModel returns the model name being used.
func (s *ChatScorer) GetModel() string {
	return s.model
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Score sends one submission to the model and parses its verdict.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: submission, reference answer and criteria.
//
// Returns:
//   - *domain.GradingResult: succeeded result on a well-formed reply.
//   - error: *ScoringError classifying the failure otherwise.
func (s *ChatScorer) Score(ctx context.Context, task domain.GradingTask) (*domain.GradingResult, error) {
	studentID := task.StudentID()

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: s.system},
			{Role: "user", Content: prompts.BuildGradingUserPrompt(studentID, task.Criteria, task.Reference, task.Submission.Content)},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	var resp chatResponse
	var errResp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&errResp).
		Post(s.endpoint)

	if err != nil {
		return nil, &ScoringError{
			Kind: ClassifyTransport(err),
			Err:  fmt.Errorf("failed to call scoring API: %w", err),
		}
	}

	// Check HTTP status code
	if code := httpResp.StatusCode(); code < 200 || code >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", code)
		if errResp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", code, errResp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", code, truncate(string(httpResp.Body()), 512))
		}
		return nil, &ScoringError{
			Kind:       ClassifyStatus(code),
			StatusCode: code,
			Err:        fmt.Errorf("scoring API returned error: %s", errorMsg),
		}
	}

	if resp.Error != nil {
		return nil, &ScoringError{
			Kind:       ClassifyAPIErrorType(resp.Error.Type),
			StatusCode: httpResp.StatusCode(),
			Err:        fmt.Errorf("scoring API error: %s", resp.Error.Message),
		}
	}

	if len(resp.Choices) == 0 {
		return nil, &ScoringError{
			Kind:       domain.ErrorKindParse,
			StatusCode: httpResp.StatusCode(),
			Err:        fmt.Errorf("no choices in response: %s", truncate(string(httpResp.Body()), 512)),
		}
	}

	raw := resp.Choices[0].Message.Content
	score, feedback, err := ParseReply(studentID, raw, s.scoreRange)
	if err != nil {
		return nil, &ScoringError{Kind: domain.ErrorKindParse, Err: err, Raw: raw}
	}

	result := domain.NewSucceededResult(studentID, score, feedback)
	result.Model = s.model
	result.RawResponse = raw
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
