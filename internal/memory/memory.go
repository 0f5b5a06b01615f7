// Package memory implements the conversation memory strategies: keep-all,
// summarize-old and keep-last-N. Every strategy stores the full message list
// for rendering and export; they differ in the context handed to the model.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrSummarize      = errors.New("summarize conversation")
	ErrNoSummarizer   = errors.New("summary memory has no summarizer")
	ErrCleared        = errors.New("memory cleared since generation")
)

// Memory is the capability shared by all strategies. Implementations are
// safe for concurrent use.
type Memory interface {
	// Key returns the configuration fingerprint the memory was built for.
	Key() string
	// Append stores msgs atomically: either all of them are kept or none.
	Append(ctx context.Context, msgs ...chat.Message) error
	// AppendAt is Append guarded by a generation read earlier. If Clear ran
	// since then, nothing is stored and ErrCleared is returned.
	AppendAt(ctx context.Context, gen uint64, msgs ...chat.Message) error
	// Generation changes every time the memory is cleared.
	Generation() uint64
	// Snapshot returns a copy of every stored message in insertion order.
	Snapshot() []chat.Message
	// Context returns the history to send to the model on the next turn.
	Context(ctx context.Context) ([]chat.Message, error)
	// Clear drops all stored state.
	Clear()
	// State exports the memory for persistence.
	State() State
}

// Summarizer folds new conversation lines into a running summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, lines []chat.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, previous string, lines []chat.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, previous string, lines []chat.Message) (string, error) {
	return f(ctx, previous, lines)
}

// State is the serializable form of a memory.
type State struct {
	Config   chat.MemoryConfig `json:"config"`
	Messages []chat.Message    `json:"messages"`
	Summary  string            `json:"summary,omitempty"`
}

// New builds an empty memory for cfg. Unknown strategies fall back to keep-all.
func New(cfg chat.MemoryConfig, summarizer Summarizer) Memory {
	cfg = cfg.Normalize()
	switch cfg.Strategy {
	case chat.StrategySummary:
		return newSummary(cfg, summarizer)
	case chat.StrategyWindow:
		return newWindow(cfg)
	default:
		return newBuffer(chat.MemoryConfig{Strategy: chat.StrategyBuffer})
	}
}

// Select returns current when it was built for cfg, otherwise a fresh empty
// memory. Nothing migrates between configurations.
func Select(current Memory, cfg chat.MemoryConfig, summarizer Summarizer) Memory {
	if current != nil && current.Key() == cfg.Key() {
		return current
	}
	return New(cfg, summarizer)
}

// Restore rebuilds a memory from a persisted State.
func Restore(state State, summarizer Summarizer) Memory {
	mem := New(state.Config, summarizer)
	if r, ok := mem.(interface{ restore(State) }); ok {
		r.restore(state)
	}
	return mem
}

func validate(msgs []chat.Message) error {
	for i, msg := range msgs {
		switch msg.Role {
		case chat.RoleUser, chat.RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidMessage, i, msg.Role)
		}
	}
	return nil
}
