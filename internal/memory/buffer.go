package memory

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

type bufferMemory struct {
	cfg      chat.MemoryConfig
	mu       sync.RWMutex
	messages []chat.Message
	gen      uint64
}

func newBuffer(cfg chat.MemoryConfig) *bufferMemory {
	return &bufferMemory{cfg: cfg}
}

func (m *bufferMemory) Key() string {
	return m.cfg.Key()
}

func (m *bufferMemory) Append(_ context.Context, msgs ...chat.Message) error {
	if err := validate(msgs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *bufferMemory) AppendAt(_ context.Context, gen uint64, msgs ...chat.Message) error {
	if err := validate(msgs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrCleared
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *bufferMemory) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

func (m *bufferMemory) Snapshot() []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]chat.Message, len(m.messages))
	copy(copied, m.messages)
	return copied
}

func (m *bufferMemory) Context(_ context.Context) ([]chat.Message, error) {
	return m.Snapshot(), nil
}

func (m *bufferMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.gen++
}

func (m *bufferMemory) State() State {
	return State{Config: m.cfg, Messages: m.Snapshot()}
}

func (m *bufferMemory) restore(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]chat.Message(nil), state.Messages...)
}
