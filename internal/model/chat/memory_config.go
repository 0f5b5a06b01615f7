package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// Strategy names a memory policy.
type Strategy string

const (
	// StrategyBuffer keeps every message.
	StrategyBuffer Strategy = "buffer"
	// StrategySummary compresses older context into a running summary.
	StrategySummary Strategy = "summary"
	// StrategyWindow only keeps the last N exchanges in model context.
	StrategyWindow Strategy = "window"
)

const (
	DefaultWindowSize = 6
	MinWindowSize     = 2
	MaxWindowSize     = 20
)

// MemoryConfig selects a memory strategy and its parameters.
type MemoryConfig struct {
	Strategy   Strategy `json:"strategy"`
	WindowSize int      `json:"windowSize,omitempty"`
}

// StrategyInfo describes a strategy for clients.
type StrategyInfo struct {
	ID          Strategy `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

// Strategies lists the selectable memory strategies in display order.
func Strategies() []StrategyInfo {
	return []StrategyInfo{
		{ID: StrategyBuffer, Label: "Buffer (all)", Description: "Keeps everything."},
		{ID: StrategySummary, Label: "Summary (long chats)", Description: "Compresses old context into a running summary."},
		{ID: StrategyWindow, Label: "Window (last N)", Description: "Only keeps the last N exchanges."},
	}
}

// ParseStrategy accepts the canonical names plus a few human aliases.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "buffer", "keep-all", "all":
		return StrategyBuffer, nil
	case "summary", "summarize", "summarize-old":
		return StrategySummary, nil
	case "window", "keep-last-n", "last-n":
		return StrategyWindow, nil
	default:
		return "", fmt.Errorf("%w: unknown memory strategy %q", ErrInvalidSettings, raw)
	}
}

// Normalize fills defaults and drops parameters that do not apply to the strategy.
func (c MemoryConfig) Normalize() MemoryConfig {
	if c.Strategy == "" {
		c.Strategy = StrategyBuffer
	}
	if c.Strategy != StrategyWindow {
		c.WindowSize = 0
		return c
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	return c
}

// Validate checks the strategy name and window bounds.
func (c MemoryConfig) Validate() error {
	c = c.Normalize()
	switch c.Strategy {
	case StrategyBuffer, StrategySummary:
		return nil
	case StrategyWindow:
		if c.WindowSize < MinWindowSize || c.WindowSize > MaxWindowSize {
			return fmt.Errorf("%w: window size must be between %d and %d", ErrInvalidSettings, MinWindowSize, MaxWindowSize)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown memory strategy %q", ErrInvalidSettings, c.Strategy)
	}
}

// Key is the configuration fingerprint. Two configs with the same key share memory.
func (c MemoryConfig) Key() string {
	c = c.Normalize()
	size := "none"
	if c.Strategy == StrategyWindow {
		size = strconv.Itoa(c.WindowSize)
	}
	return "memory::" + string(c.Strategy) + "::" + size
}
