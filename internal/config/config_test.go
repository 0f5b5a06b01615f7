package config

import (
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/llm"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LLM_PROVIDER", "LLM_MODELS", "LLM_DEFAULT_MODEL", "LLM_TEMPERATURE", "LLM_MAX_TOKENS", "GROQ_API_KEY", "SESSION_STORE", "REVEAL_DELAY", "REVEAL_CHUNK_RUNES", "TURN_RATE", "SESSION_TTL", "SESSION_IDLE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderGroq {
		t.Fatalf("expected groq provider, got %s", cfg.AI.Provider)
	}
	if cfg.AI.DefaultModel != "deepseek-r1-distill-llama-70b" {
		t.Fatalf("unexpected default model %s", cfg.AI.DefaultModel)
	}
	if len(cfg.AI.Models) != len(DefaultModels) {
		t.Fatalf("expected %d models, got %d", len(DefaultModels), len(cfg.AI.Models))
	}
	if cfg.Turn.RevealDelay != 12*time.Millisecond || cfg.Turn.RevealChunkRunes != 3 {
		t.Fatalf("unexpected reveal config %+v", cfg.Turn)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("expected memory store, got %s", cfg.Store.Driver)
	}
	if cfg.Store.TTL != 24*time.Hour || cfg.Store.IdleTTL != 30*time.Minute {
		t.Fatalf("unexpected store ttl %+v", cfg.Store)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("LLM_MODELS", "gemma2-9b-it, llama-3.3-70b-versatile,,gemma2-9b-it")
	t.Setenv("LLM_DEFAULT_MODEL", "not-in-list")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_TOKENS", "1024")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REVEAL_CHUNK_RUNES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if len(cfg.AI.Models) != 2 || cfg.AI.DefaultModel != "gemma2-9b-it" {
		t.Fatalf("unexpected models %v default %s", cfg.AI.Models, cfg.AI.DefaultModel)
	}

	defaults := cfg.AI.SessionDefaults()
	if defaults.Temperature != 0.2 || defaults.MaxTokens != 1024 {
		t.Fatalf("session defaults ignore env overrides: %+v", defaults)
	}
	if cfg.Store.Driver != StoreRedis {
		t.Fatalf("expected redis store")
	}
	if cfg.Turn.RevealChunkRunes != 1 {
		t.Fatalf("chunk size should clamp to 1, got %d", cfg.Turn.RevealChunkRunes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LLM_PROVIDER":    "bedrock",
		"LLM_TEMPERATURE": "1.7",
		"LLM_MAX_TOKENS":  "abc",
		"LLM_STREAM":      "maybe",
		"REVEAL_DELAY":    "-1s",
		"SESSION_STORE":   "sqlite",
		"PORT":            "80 80",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestResolveAPIKey(t *testing.T) {
	cfg := AIConfig{Provider: ProviderGroq}

	if _, err := cfg.ResolveAPIKey(""); !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	cfg.APIKey = "server-key"
	if key, err := cfg.ResolveAPIKey("  "); err != nil || key != "server-key" {
		t.Fatalf("expected server key fallback, got %q %v", key, err)
	}
	if key, _ := cfg.ResolveAPIKey("user-key"); key != "user-key" {
		t.Fatalf("user key should win, got %q", key)
	}

	ark := AIConfig{Provider: ProviderArk, AccessKey: "ak", SecretKey: "sk"}
	if _, err := ark.ResolveAPIKey(""); err != nil {
		t.Fatalf("ark AK/SK should count as credential: %v", err)
	}
}
