package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
	"github.com/zhouzirui/z-chat/backend/internal/transcript"
)

// summaryTemperature keeps summaries deterministic.
const summaryTemperature = 0

// maxCachedCredentials bounds the number of compiled chain sets.
const maxCachedCredentials = 64

// ModelFactory creates a chat model bound to one credential.
type ModelFactory func(ctx context.Context, apiKey string) (model.BaseChatModel, error)

type chainSet struct {
	reply   compose.Runnable[map[string]any, *schema.Message]
	summary compose.Runnable[map[string]any, *schema.Message]
}

// Service wraps the eino chains used for replies and running summaries.
type Service struct {
	cfg      config.AIConfig
	presets  preset.Store
	newModel ModelFactory

	mu     sync.Mutex
	chains map[string]*chainSet
}

// Option customizes a Service.
type Option func(*Service)

// WithModelFactory overrides how chat models are created.
func WithModelFactory(factory ModelFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newModel = factory
		}
	}
}

// NewService creates a new AI service instance. When the server holds a
// default credential its chains are compiled eagerly so misconfiguration
// surfaces at startup.
func NewService(ctx context.Context, presets preset.Store, cfg config.AIConfig, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		presets:  presets,
		newModel: cfg.NewChatModel,
		chains:   make(map[string]*chainSet),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.HasDefaultCredential() {
		if _, err := s.chainsFor(ctx, cfg.APIKey); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// StreamingEnabled 指示是否开启上游流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// ResolveCredential picks the key a turn will run with.
func (s *Service) ResolveCredential(settings chat.Settings) (string, error) {
	return s.cfg.ResolveAPIKey(settings.APIKey)
}

// Request is one reply to generate.
type Request struct {
	Settings chat.Settings
	History  []chat.Message
	Query    string
}

// GenerateResponse runs the reply chain and returns the complete answer.
func (s *Service) GenerateResponse(ctx context.Context, req Request) (*schema.Message, error) {
	chains, err := s.chainsForSettings(ctx, req.Settings)
	if err != nil {
		return nil, err
	}

	response, err := chains.reply.Invoke(ctx, s.replyInput(req), replyOptions(req.Settings)...)
	if err != nil {
		return nil, fmt.Errorf("run chat chain: %w", llm.Classify(err))
	}

	log.Printf("[ai] generated response model=%s preset=%s length=%d", req.Settings.Model, req.Settings.PresetID, len(response.Content))
	return response, nil
}

// StreamResponse runs the reply chain in streaming mode.
func (s *Service) StreamResponse(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	chains, err := s.chainsForSettings(ctx, req.Settings)
	if err != nil {
		return nil, err
	}

	stream, err := chains.reply.Stream(ctx, s.replyInput(req), replyOptions(req.Settings)...)
	if err != nil {
		return nil, fmt.Errorf("stream chat chain: %w", llm.Classify(err))
	}
	return stream, nil
}

// Summarize folds lines into previous using the session's model and credential.
func (s *Service) Summarize(ctx context.Context, settings chat.Settings, previous string, lines []chat.Message) (string, error) {
	chains, err := s.chainsForSettings(ctx, settings)
	if err != nil {
		return "", err
	}

	current := strings.TrimSpace(previous)
	if current == "" {
		current = "(none)"
	}
	input := map[string]any{
		"summary": current,
		"lines":   transcript.Format(lines),
	}

	response, err := chains.summary.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithModel(settings.Model),
		model.WithTemperature(summaryTemperature),
	))
	if err != nil {
		return "", fmt.Errorf("run summary chain: %w", llm.Classify(err))
	}

	log.Printf("[ai] folded %d lines into summary length=%d", len(lines), len(response.Content))
	return response.Content, nil
}

func (s *Service) replyInput(req Request) map[string]any {
	return map[string]any{
		"system":  SystemPrompt(s.presets, req.Settings),
		"history": historyMessages(req.History),
		"query":   req.Query,
	}
}

func replyOptions(settings chat.Settings) []compose.Option {
	return []compose.Option{compose.WithChatModelOption(
		model.WithModel(settings.Model),
		model.WithTemperature(float32(settings.Temperature)),
		model.WithMaxTokens(settings.MaxTokens),
	)}
}

func (s *Service) chainsForSettings(ctx context.Context, settings chat.Settings) (*chainSet, error) {
	key, err := s.ResolveCredential(settings)
	if err != nil {
		return nil, err
	}
	return s.chainsFor(ctx, key)
}

// chainsFor returns the compiled chains for a credential, building them on first use.
func (s *Service) chainsFor(ctx context.Context, apiKey string) (*chainSet, error) {
	id := fingerprint(apiKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.chains[id]; ok {
		return set, nil
	}

	chatModel, err := s.newModel(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	reply := compose.NewChain[map[string]any, *schema.Message]()
	reply.AppendChatTemplate(replyTemplate())
	reply.AppendChatModel(chatModel)
	replyRunnable, err := reply.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	summary := compose.NewChain[map[string]any, *schema.Message]()
	summary.AppendChatTemplate(summaryTemplate())
	summary.AppendChatModel(chatModel)
	summaryRunnable, err := summary.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile summary chain: %w", err)
	}

	if len(s.chains) >= maxCachedCredentials {
		s.chains = make(map[string]*chainSet)
	}
	set := &chainSet{reply: replyRunnable, summary: summaryRunnable}
	s.chains[id] = set
	return set, nil
}

func fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
