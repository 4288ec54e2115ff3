// Package llm implements the Inference collaborator on the OpenAI
// chat-completions API. Any OpenAI-compatible endpoint works through
// BaseURL (OpenRouter, Together, a local gateway).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" required:"true"`
	Temperature float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	MaxTokens   int64         `envconfig:"MAX_TOKENS" split_words:"true" default:"256"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	return nil
}

type Client struct {
	cfg    Config
	client openaisdk.Client
}

var _ contractx.Inference = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	return &Client{
		cfg:    cfg,
		client: openaisdk.NewClient(opts...),
	}, nil
}

const intentPrompt = `Classify the customer message into exactly one intent:
refund_request, cancellation, shipping_inquiry, check_order,
technical_support, report_issue, complaint, general_query.
Reply with JSON only: {"label": "...", "confidence": 0.0-1.0, "urgency": "low|medium|high"}`

const sentimentPrompt = `Score the sentiment of the customer message.
Reply with JSON only: {"label": "<emotion>", "score": -1.0 to 1.0, "confidence": 0.0-1.0}`

// Classify performs one model call; the orchestrator-side retry policy
// wraps it, so a single attempt is made here.
func (c *Client) Classify(ctx context.Context, text string, task contractx.ClassifyTask) (contractx.Classification, error) {
	var system string
	switch task {
	case contractx.TaskIntent:
		system = intentPrompt
	case contractx.TaskSentiment:
		system = sentimentPrompt
	default:
		return contractx.Classification{}, fmt.Errorf("%w: unknown classify task %q", contractx.ErrValidation, task)
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.cfg.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(text),
		},
		Temperature: openaisdk.Float(c.cfg.Temperature),
		MaxTokens:   openaisdk.Int(c.cfg.MaxTokens),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.Classification{}, contractx.Transient(fmt.Errorf("%w: %s classify: %v", contractx.ErrCollaborator, task, err))
	}
	if len(completion.Choices) == 0 {
		return contractx.Classification{}, contractx.Transient(fmt.Errorf("%w: empty completion for %s classify", contractx.ErrCollaborator, task))
	}

	return parseClassification(completion.Choices[0].Message.Content, task)
}

func parseClassification(content string, task contractx.ClassifyTask) (contractx.Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out contractx.Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: malformed %s classification: %v", contractx.ErrValidation, task, err)
	}
	if out.Label == "" {
		return contractx.Classification{}, fmt.Errorf("%w: %s classification has no label", contractx.ErrValidation, task)
	}
	return out, nil
}
