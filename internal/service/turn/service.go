// Package turn runs one conversational turn: credential check, model call,
// atomic commit to memory and progressive reveal.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
)

var ErrEmptyInput = errors.New("message text is required")

// Replier produces assistant replies.
type Replier interface {
	ResolveCredential(settings chat.Settings) (string, error)
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, req ai.Request) (*schema.Message, error)
	StreamResponse(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error)
}

// Sessions gives access to session state and turn slots.
type Sessions interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	BeginTurn(ctx context.Context, sessionID string) (*chatservice.Turn, error)
}

// Service executes turns.
type Service struct {
	sessions Sessions
	replier  Replier
	cfg      config.TurnConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService wires the turn executor.
func NewService(sessions Sessions, replier Replier, cfg config.TurnConfig) *Service {
	return &Service{
		sessions: sessions,
		replier:  replier,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run executes one turn for sessionID. The user and assistant messages are
// stored only after the model call succeeds. reveal may be nil.
//
// When the reveal callback fails after the exchange was stored, the stored
// assistant message is returned together with the error.
func (s *Service) Run(ctx context.Context, sessionID, input string, reveal RevealFunc) (chat.Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return chat.Message{}, ErrEmptyInput
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	if _, err := s.replier.ResolveCredential(session.Settings); err != nil {
		return chat.Message{}, err
	}

	turn, err := s.sessions.BeginTurn(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	defer turn.Release()

	if !s.allow(sessionID) {
		return chat.Message{}, llm.ErrRateLimited
	}

	history, err := turn.Context(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("load memory context: %w", err)
	}

	req := ai.Request{Settings: turn.Session.Settings, History: history, Query: input}
	userMessage := chat.NewMessage(chat.RoleUser, input)

	if reveal != nil && s.replier.StreamingEnabled() {
		return s.runStreaming(ctx, turn, req, userMessage, reveal)
	}

	started := time.Now()
	response, err := s.replier.GenerateResponse(ctx, req)
	if err != nil {
		return chat.Message{}, err
	}

	assistant := chat.NewMessage(chat.RoleAssistant, response.Content)
	if err := turn.Commit(ctx, userMessage, assistant); err != nil {
		return chat.Message{}, fmt.Errorf("store exchange: %w", err)
	}
	log.Printf("[turn] session=%s model=%s reply=%d runes took=%s", sessionID, req.Settings.Model, len([]rune(assistant.Content)), time.Since(started))

	if reveal != nil {
		if err := Reveal(ctx, assistant.Content, s.cfg.RevealChunkRunes, s.cfg.RevealDelay, reveal); err != nil {
			return assistant, fmt.Errorf("reveal reply: %w", err)
		}
	}
	return assistant, nil
}

// runStreaming forwards upstream deltas as they arrive and stores the
// concatenated reply once the stream has ended cleanly.
func (s *Service) runStreaming(ctx context.Context, turn *chatservice.Turn, req ai.Request, userMessage chat.Message, reveal RevealFunc) (chat.Message, error) {
	stream, err := s.replier.StreamResponse(ctx, req)
	if err != nil {
		return chat.Message{}, err
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.Message{}, fmt.Errorf("receive reply: %w", llm.Classify(err))
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if err := reveal(chunk.Content); err != nil {
			return chat.Message{}, fmt.Errorf("reveal reply: %w", err)
		}
	}

	assistant := chat.NewMessage(chat.RoleAssistant, builder.String())
	if err := turn.Commit(ctx, userMessage, assistant); err != nil {
		return chat.Message{}, fmt.Errorf("store exchange: %w", err)
	}
	return assistant, nil
}

// allow applies the per-session throttle. A non-positive rate disables it.
func (s *Service) allow(sessionID string) bool {
	if s.cfg.Rate <= 0 {
		return true
	}

	s.mu.Lock()
	limiter, ok := s.limiters[sessionID]
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Rate), burst)
		s.limiters[sessionID] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

// Forget drops per-session throttle state.
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.limiters, sessionID)
	s.mu.Unlock()
}
