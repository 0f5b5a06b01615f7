package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1/"

// GroqConfig configures a GroqChatModel. Model, Temperature and MaxTokens are
// defaults that per-call model options override.
type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	MaxTokens   *int
	Timeout     time.Duration
	// MaxRetries defaults to zero: a failed turn is reported, not retried.
	MaxRetries int
	Options    []option.RequestOption
}

// GroqChatModel implements model.BaseChatModel on top of the OpenAI SDK.
type GroqChatModel struct {
	client openai.Client
	cfg    GroqConfig
}

var _ model.BaseChatModel = (*GroqChatModel)(nil)

// NewGroqChatModel creates a chat model bound to one credential.
func NewGroqChatModel(_ context.Context, cfg *GroqConfig) (*GroqChatModel, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, cfg.Options...)

	return &GroqChatModel{
		client: openai.NewClient(opts...),
		cfg:    *cfg,
	}, nil
}

// Generate requests a single completion.
func (m *GroqChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ErrEmptyResponse)
	}

	choice := completion.Choices[0]
	return &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: choice.FinishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     int(completion.Usage.PromptTokens),
				CompletionTokens: int(completion.Usage.CompletionTokens),
				TotalTokens:      int(completion.Usage.TotalTokens),
			},
		},
	}, nil
}

// Stream requests a streamed completion. Chunks carry content deltas only.
func (m *GroqChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	upstream := m.client.Chat.Completions.NewStreaming(ctx, params)
	reader, writer := schema.Pipe[*schema.Message](8)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				writer.Send(nil, fmt.Errorf("groq stream panic: %v", p))
			}
			if err := upstream.Close(); err != nil {
				log.Printf("[llm] close groq stream: %v", err)
			}
			writer.Close()
		}()

		for upstream.Next() {
			chunk := upstream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := &schema.Message{
				Role:    schema.Assistant,
				Content: chunk.Choices[0].Delta.Content,
			}
			if closed := writer.Send(delta, nil); closed {
				return
			}
		}
		if err := upstream.Err(); err != nil {
			writer.Send(nil, err)
		}
	}()

	return reader, nil
}

func (m *GroqChatModel) buildParams(input []*schema.Message, opts ...model.Option) (openai.ChatCompletionNewParams, error) {
	defaultModel := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &defaultModel,
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	if options.Model == nil || *options.Model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("groq: model is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case schema.User:
			messages = append(messages, openai.UserMessage(msg.Content))
		case schema.Assistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("groq: unsupported message role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    *options.Model,
	}
	if options.Temperature != nil {
		params.Temperature = openai.Float(float64(*options.Temperature))
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(*options.MaxTokens))
	}
	if options.TopP != nil {
		params.TopP = openai.Float(float64(*options.TopP))
	}
	if len(options.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: options.Stop}
	}

	return params, nil
}
