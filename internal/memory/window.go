package memory

import (
	"context"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// windowMemory keeps everything but only hands the last WindowSize exchanges
// (two messages each) to the model.
type windowMemory struct {
	*bufferMemory
}

func newWindow(cfg chat.MemoryConfig) *windowMemory {
	return &windowMemory{bufferMemory: newBuffer(cfg)}
}

func (m *windowMemory) Context(_ context.Context) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := 2 * m.cfg.WindowSize
	start := 0
	if len(m.messages) > limit {
		start = len(m.messages) - limit
	}

	recent := make([]chat.Message, len(m.messages)-start)
	copy(recent, m.messages[start:])
	return recent, nil
}
