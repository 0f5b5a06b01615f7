package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
)

type fakeReplier struct {
	mu        sync.Mutex
	serverKey string
	streaming bool
	reply     func(req ai.Request) (string, error)
	requests  []ai.Request
	block     chan struct{}
}

func (f *fakeReplier) ResolveCredential(settings chat.Settings) (string, error) {
	if settings.HasAPIKey() {
		return settings.APIKey, nil
	}
	if f.serverKey == "" {
		return "", llm.ErrMissingCredential
	}
	return f.serverKey, nil
}

func (f *fakeReplier) StreamingEnabled() bool { return f.streaming }

func (f *fakeReplier) GenerateResponse(ctx context.Context, req ai.Request) (*schema.Message, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	content, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeReplier) StreamResponse(_ context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	content, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	var chunks []*schema.Message
	for _, part := range strings.SplitAfter(content, " ") {
		chunks = append(chunks, schema.AssistantMessage(part, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (f *fakeReplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func echo(req ai.Request) (string, error) {
	return "echo: " + req.Query, nil
}

var fastTurns = config.TurnConfig{RevealChunkRunes: 3}

func setup(t *testing.T, replier *fakeReplier, cfg config.TurnConfig, memCfg chat.MemoryConfig, opts ...chatservice.Option) (*Service, *chatservice.Service, string) {
	t.Helper()
	sessions := chatservice.NewService(opts...)
	settings := chat.DefaultSettings("llama-3.3-70b-versatile")
	settings.APIKey = "user-key"
	settings.Memory = memCfg
	session, err := sessions.CreateSession(context.Background(), settings)
	require.NoError(t, err)
	return NewService(sessions, replier, cfg), sessions, session.ID
}

func TestRunHelloKeepAll(t *testing.T) {
	replier := &fakeReplier{reply: func(ai.Request) (string, error) { return "Hi! 你好", nil }}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{Strategy: chat.StrategyBuffer})

	var chunks []string
	msg, err := svc.Run(context.Background(), id, "Hello", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, "Hi! 你好", strings.Join(chunks, ""))
	assert.Equal(t, []string{"Hi!", " 你好"}, chunks)

	history, err := sessions.LoadTranscript(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Content)
	assert.Equal(t, "Hi! 你好", history[1].Content)

	require.Equal(t, 1, replier.calls())
	assert.Empty(t, replier.requests[0].History)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	svc, _, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	_, err := svc.Run(context.Background(), id, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, replier.calls())
}

func TestRunMissingCredentialFailsFast(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	sessions := chatservice.NewService()
	session, err := sessions.CreateSession(context.Background(), chat.DefaultSettings("m"))
	require.NoError(t, err)
	svc := NewService(sessions, replier, fastTurns)

	_, err = svc.Run(context.Background(), session.ID, "Hello", nil)
	assert.ErrorIs(t, err, llm.ErrMissingCredential)
	assert.Zero(t, replier.calls())

	history, _ := sessions.LoadTranscript(context.Background(), session.ID)
	assert.Empty(t, history)
}

func TestRunUpstreamFailureStoresNothing(t *testing.T) {
	fail := false
	replier := &fakeReplier{reply: func(req ai.Request) (string, error) {
		if fail {
			return "", fmt.Errorf("%w: boom", llm.ErrUpstream)
		}
		return echo(req)
	}}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	_, err := svc.Run(context.Background(), id, "one", nil)
	require.NoError(t, err)

	fail = true
	_, err = svc.Run(context.Background(), id, "two", nil)
	assert.ErrorIs(t, err, llm.ErrUpstream)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	assert.Len(t, history, 2)
}

func TestRunStoresTwoMessagesPerSuccessfulTurn(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	for i := 0; i < 5; i++ {
		_, err := svc.Run(context.Background(), id, fmt.Sprintf("q%d", i), nil)
		require.NoError(t, err)
	}

	history, _ := sessions.LoadTranscript(context.Background(), id)
	assert.Len(t, history, 10)
}

func TestRunWindowLimitsModelContext(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{Strategy: chat.StrategyWindow, WindowSize: 2})

	for i := 0; i < 6; i++ {
		_, err := svc.Run(context.Background(), id, fmt.Sprintf("q%d", i), nil)
		require.NoError(t, err)
	}

	for _, req := range replier.requests {
		assert.LessOrEqual(t, len(req.History), 4)
	}
	last := replier.requests[len(replier.requests)-1]
	require.Len(t, last.History, 4)
	assert.Equal(t, "q3", last.History[0].Content)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	assert.Len(t, history, 12)
}

func TestRunSummaryFailureStoresNothing(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	summarizer := chatservice.WithSummarizer(func(context.Context, chat.Settings, string, []chat.Message) (string, error) {
		return "", errors.New("summary model down")
	})
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{Strategy: chat.StrategySummary}, summarizer)

	_, err := svc.Run(context.Background(), id, "Hello", nil)
	require.Error(t, err)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	assert.Empty(t, history)
}

func TestRunRejectsConcurrentTurn(t *testing.T) {
	replier := &fakeReplier{reply: echo, block: make(chan struct{})}
	svc, _, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), id, "slow", nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return replier.calls() == 1 }, time.Second, time.Millisecond)

	_, err := svc.Run(context.Background(), id, "fast", nil)
	assert.ErrorIs(t, err, chatservice.ErrTurnInProgress)

	close(replier.block)
	require.NoError(t, <-done)
}

func TestRunCancellationStoresNothing(t *testing.T) {
	replier := &fakeReplier{reply: echo, block: make(chan struct{})}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, id, "Hello", nil)
	assert.ErrorIs(t, err, context.Canceled)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	assert.Empty(t, history)
}

func TestRunRateLimited(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	cfg := fastTurns
	cfg.Rate = 0.001
	cfg.Burst = 1
	svc, _, id := setup(t, replier, cfg, chat.MemoryConfig{})

	_, err := svc.Run(context.Background(), id, "one", nil)
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), id, "two", nil)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, 1, replier.calls())
}

func TestForgetOnSessionRemovalDropsLimiter(t *testing.T) {
	replier := &fakeReplier{reply: echo}
	cfg := fastTurns
	cfg.Rate = 0.001
	cfg.Burst = 1
	svc, sessions, id := setup(t, replier, cfg, chat.MemoryConfig{}, chatservice.WithIdleTTL(time.Minute))
	sessions.OnForget(svc.Forget)

	_, err := svc.Run(context.Background(), id, "one", nil)
	require.NoError(t, err)
	assert.Len(t, svc.limiters, 1)

	require.Equal(t, 1, sessions.EvictIdle(time.Now().Add(time.Hour)))
	assert.Empty(t, svc.limiters, "evicted sessions release their throttle")

	_, err = svc.Run(context.Background(), id, "two", nil)
	require.NoError(t, err)
	assert.Len(t, svc.limiters, 1)

	require.NoError(t, sessions.DeleteSession(context.Background(), id))
	assert.Empty(t, svc.limiters, "deleted sessions release their throttle")
}

func TestRunStreamingForwardsDeltas(t *testing.T) {
	replier := &fakeReplier{streaming: true, reply: func(ai.Request) (string, error) { return "one two three", nil }}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	var deltas []string
	msg, err := svc.Run(context.Background(), id, "count", func(chunk string) error {
		deltas = append(deltas, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two ", "three"}, deltas)
	assert.Equal(t, "one two three", msg.Content)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	require.Len(t, history, 2)
	assert.Equal(t, "one two three", history[1].Content)
}

func TestRunRevealDoesNotAlterStoredContent(t *testing.T) {
	replier := &fakeReplier{reply: func(ai.Request) (string, error) { return "abcdefgh", nil }}
	svc, sessions, id := setup(t, replier, fastTurns, chat.MemoryConfig{})

	revealErr := errors.New("client gone")
	msg, err := svc.Run(context.Background(), id, "hi", func(string) error { return revealErr })
	assert.ErrorIs(t, err, revealErr)
	assert.Equal(t, "abcdefgh", msg.Content)

	history, _ := sessions.LoadTranscript(context.Background(), id)
	require.Len(t, history, 2)
	assert.Equal(t, "abcdefgh", history[1].Content)
}
