package chat

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

const (
	MinTemperature     = 0.0
	MaxTemperature     = 1.0
	DefaultTemperature = 0.7

	MinMaxTokens     = 50
	MaxMaxTokens     = 3000
	DefaultMaxTokens = 512

	DefaultPresetID = "teaching"
)

// Settings is the per-session configuration chosen by the user.
type Settings struct {
	// APIKey is the user's model credential. It is never serialized.
	APIKey       string       `json:"-"`
	Model        string       `json:"model"`
	Temperature  float64      `json:"temperature"`
	MaxTokens    int          `json:"maxTokens"`
	PresetID     string       `json:"presetId"`
	SystemPrompt string       `json:"systemPrompt,omitempty"`
	Memory       MemoryConfig `json:"memory"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings(model string) Settings {
	return Settings{
		Model:       model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		PresetID:    DefaultPresetID,
		Memory:      MemoryConfig{Strategy: StrategyBuffer},
	}
}

// HasAPIKey reports whether the user supplied a credential.
func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Validate enforces the bounds of every field. models lists the accepted
// model identifiers; an empty list accepts any non-empty model.
func (s Settings) Validate(models []string) error {
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidSettings)
	}
	if len(models) > 0 && !slices.Contains(models, s.Model) {
		return fmt.Errorf("%w: unsupported model %q", ErrInvalidSettings, s.Model)
	}
	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature must be between %.1f and %.1f", ErrInvalidSettings, MinTemperature, MaxTemperature)
	}
	if s.MaxTokens < MinMaxTokens || s.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: max tokens must be between %d and %d", ErrInvalidSettings, MinMaxTokens, MaxMaxTokens)
	}
	return s.Memory.Validate()
}

// SettingsPatch carries a partial update; nil fields keep their current value.
type SettingsPatch struct {
	APIKey       *string      `json:"apiKey,omitempty"`
	Model        *string      `json:"model,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	MaxTokens    *int         `json:"maxTokens,omitempty"`
	PresetID     *string      `json:"presetId,omitempty"`
	SystemPrompt *string      `json:"systemPrompt,omitempty"`
	Memory       *MemoryPatch `json:"memory,omitempty"`
}

// MemoryPatch is the memory part of SettingsPatch.
type MemoryPatch struct {
	Strategy   *string `json:"strategy,omitempty"`
	WindowSize *int    `json:"windowSize,omitempty"`
}

// Apply returns base with the patch applied.
func (p SettingsPatch) Apply(base Settings) (Settings, error) {
	next := base
	if p.APIKey != nil {
		next.APIKey = strings.TrimSpace(*p.APIKey)
	}
	if p.Model != nil {
		next.Model = strings.TrimSpace(*p.Model)
	}
	if p.Temperature != nil {
		next.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		next.MaxTokens = *p.MaxTokens
	}
	if p.PresetID != nil {
		next.PresetID = strings.TrimSpace(*p.PresetID)
	}
	if p.SystemPrompt != nil {
		next.SystemPrompt = *p.SystemPrompt
	}
	if p.Memory != nil {
		if p.Memory.Strategy != nil {
			strategy, err := ParseStrategy(*p.Memory.Strategy)
			if err != nil {
				return base, err
			}
			next.Memory.Strategy = strategy
		}
		if p.Memory.WindowSize != nil {
			next.Memory.WindowSize = *p.Memory.WindowSize
		}
	}
	next.Memory = next.Memory.Normalize()
	return next, nil
}
