package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// summaryMemory keeps a running summary that is extended on every Append.
// The model only sees the summary, never the raw messages.
type summaryMemory struct {
	*bufferMemory
	summarizer Summarizer

	// folding serializes summarizer calls so each one builds on the last.
	folding sync.Mutex
	summary string
}

func newSummary(cfg chat.MemoryConfig, summarizer Summarizer) *summaryMemory {
	return &summaryMemory{bufferMemory: newBuffer(cfg), summarizer: summarizer}
}

func (m *summaryMemory) Append(ctx context.Context, msgs ...chat.Message) error {
	return m.fold(ctx, nil, msgs)
}

func (m *summaryMemory) AppendAt(ctx context.Context, gen uint64, msgs ...chat.Message) error {
	return m.fold(ctx, &gen, msgs)
}

// fold runs one summarizer call. A Clear that lands while the call is in
// flight wins: the stale summary and messages are dropped.
func (m *summaryMemory) fold(ctx context.Context, want *uint64, msgs []chat.Message) error {
	if err := validate(msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if m.summarizer == nil {
		return ErrNoSummarizer
	}

	m.folding.Lock()
	defer m.folding.Unlock()

	m.mu.RLock()
	previous, gen := m.summary, m.gen
	m.mu.RUnlock()
	if want != nil && *want != gen {
		return ErrCleared
	}

	next, err := m.summarizer.Summarize(ctx, previous, msgs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSummarize, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrCleared
	}
	m.summary = strings.TrimSpace(next)
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *summaryMemory) Context(_ context.Context) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.summary == "" {
		return nil, nil
	}
	return []chat.Message{{Role: chat.RoleSystem, Content: m.summary}}, nil
}

func (m *summaryMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.summary = ""
	m.gen++
}

func (m *summaryMemory) State() State {
	state := m.bufferMemory.State()
	m.mu.RLock()
	state.Summary = m.summary
	m.mu.RUnlock()
	return state
}

func (m *summaryMemory) restore(state State) {
	m.bufferMemory.restore(state)
	m.mu.Lock()
	m.summary = state.Summary
	m.mu.Unlock()
}
