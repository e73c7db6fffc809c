package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/pkg/circuitbreaker"
	"github.com/roofscope/backend/pkg/logger"
	"github.com/roofscope/backend/pkg/retry"
)

const systemPrompt = `You are a commercial roof inspection evidence reviewer. Given one piece of
field evidence, judge whether it is a usable, on-topic artifact for the named
inspection step (correctly framed, legible, plausibly from the roof in
question).

Return ONLY a JSON object:
{"is_valid": true, "confidence": 0.93, "findings": ["short observation", "..."]}

confidence is your certainty in the verdict, between 0 and 1. findings lists
concrete observations relevant to the step, or the reason the evidence is
unusable.`

// Client calls the external provider to judge evidence validity. The core
// never computes validity itself; it stores whatever verdict comes back.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cb := circuitbreaker.New("analysis", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMax:      2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Analysis client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// Analyze sends one evidence asset to the provider and parses its verdict.
func (c *Client) Analyze(ctx context.Context, asset models.EvidenceAsset) (*models.AIAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userMessage := c.buildUserMessage(asset)

	var result *models.AIAnalysis

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{
							Role:    openai.ChatMessageRoleSystem,
							Content: systemPrompt,
						},
						userMessage,
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("provider returned no choices")
			}

			verdict, err := parseVerdict(resp.Choices[0].Message.Content)
			if err != nil {
				return err
			}

			result = verdict
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Evidence analyzed",
		zap.String("evidence_id", asset.ID),
		zap.Bool("is_valid", result.IsValid),
		zap.Float64("confidence", result.Confidence),
	)

	return result, nil
}

func (c *Client) buildUserMessage(asset models.EvidenceAsset) openai.ChatCompletionMessage {
	prompt := fmt.Sprintf("Inspection step: %s\nAsset kind: %s", asset.Step, asset.Kind)

	if asset.Kind == models.AssetImage || asset.Kind == models.AssetThermalImage {
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: asset.ContentRef},
				},
			},
		}
	}

	// Non-image kinds are judged from the reference alone.
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("%s\nContent reference: %s", prompt, asset.ContentRef),
	}
}

func parseVerdict(content string) (*models.AIAnalysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict struct {
		IsValid    bool     `json:"is_valid"`
		Confidence float64  `json:"confidence"`
		Findings   []string `json:"findings"`
	}

	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse provider verdict: %w", err)
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	return &models.AIAnalysis{
		IsValid:    verdict.IsValid,
		Confidence: verdict.Confidence,
		Findings:   verdict.Findings,
		AnalyzedAt: time.Now(),
	}, nil
}
