package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig
	AI          AIConfig
	Turn        TurnConfig
	Store       StoreConfig
	PresetsFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	turn, err := loadTurnConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:      server,
		AI:          ai,
		Turn:        turn,
		Store:       store,
		PresetsFile: strings.TrimSpace(os.Getenv("PRESETS_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

const (
	ProviderGroq = "groq"
	ProviderArk  = "ark"
)

// DefaultModels is the model menu offered when LLM_MODELS is unset.
var DefaultModels = []string{
	"qwen/qwen3-32b",
	"llama-3.3-70b-versatile",
	"deepseek-r1-distill-llama-70b",
	"gemma2-9b-it",
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	BaseURL        string
	Region         string
	Models         []string
	DefaultModel   string
	Temperature    *float64
	MaxTokens      *int
	StreamResponse bool
	Timeout        time.Duration
}

// HasDefaultCredential 表示服务端是否配置了兜底凭证。
func (c AIConfig) HasDefaultCredential() bool {
	return c.APIKey != "" || (c.Provider == ProviderArk && c.AccessKey != "" && c.SecretKey != "")
}

// ResolveAPIKey picks the user's key, then the server key. It fails before any
// model call when neither is available.
func (c AIConfig) ResolveAPIKey(userKey string) (string, error) {
	if key := strings.TrimSpace(userKey); key != "" {
		return key, nil
	}
	if !c.HasDefaultCredential() {
		return "", llm.ErrMissingCredential
	}
	return c.APIKey, nil
}

// SessionDefaults 返回新会话的默认设置。
func (c AIConfig) SessionDefaults() chat.Settings {
	settings := chat.DefaultSettings(c.DefaultModel)
	if c.Temperature != nil {
		settings.Temperature = *c.Temperature
	}
	if c.MaxTokens != nil {
		settings.MaxTokens = *c.MaxTokens
	}
	return settings
}

// NewChatModel 使用配置与指定凭证创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	switch c.Provider {
	case ProviderGroq:
		if apiKey == "" {
			return nil, llm.ErrMissingCredential
		}
		return llm.NewGroqChatModel(ctx, &llm.GroqConfig{
			APIKey:  apiKey,
			BaseURL: c.BaseURL,
			Model:   c.DefaultModel,
			Timeout: c.Timeout,
		})
	case ProviderArk:
		cfg := &ark.ChatModelConfig{
			BaseURL: c.BaseURL,
			Region:  c.Region,
			APIKey:  apiKey,
			Model:   c.DefaultModel,
		}
		if apiKey == "" {
			cfg.AccessKey = c.AccessKey
			cfg.SecretKey = c.SecretKey
		}
		if c.Timeout > 0 {
			timeout := c.Timeout
			cfg.Timeout = &timeout
		}
		return ark.NewChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGroq))
	if provider != ProviderGroq && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature != nil && (*temperature < chat.MinTemperature || *temperature > chat.MaxTemperature) {
		return AIConfig{}, fmt.Errorf("invalid LLM_TEMPERATURE value %v: must be within [0, 1]", *temperature)
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens != nil && (*maxTokens < chat.MinMaxTokens || *maxTokens > chat.MaxMaxTokens) {
		return AIConfig{}, fmt.Errorf("invalid LLM_MAX_TOKENS value %d", *maxTokens)
	}

	stream, err := parseBoolEnv("LLM_STREAM", false)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	models := parseListEnv("LLM_MODELS", DefaultModels)
	defaultModel := getEnvOrDefault("LLM_DEFAULT_MODEL", "deepseek-r1-distill-llama-70b")
	if !contains(models, defaultModel) {
		defaultModel = models[0]
	}

	cfg := AIConfig{
		Provider:       provider,
		Models:         models,
		DefaultModel:   defaultModel,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Timeout:        timeout,
	}

	switch provider {
	case ProviderGroq:
		cfg.APIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
		cfg.BaseURL = getEnvOrDefault("GROQ_BASE_URL", llm.DefaultGroqBaseURL)
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	}

	return cfg, nil
}

// TurnConfig 控制单轮对话的展示节奏与限流。
type TurnConfig struct {
	RevealDelay      time.Duration
	RevealChunkRunes int
	// Rate is the sustained number of turns per second allowed per session; zero disables throttling.
	Rate  float64
	Burst int
}

func loadTurnConfig() (TurnConfig, error) {
	delay, err := parseDurationEnv("REVEAL_DELAY", 12*time.Millisecond)
	if err != nil {
		return TurnConfig{}, err
	}

	chunk := 3
	if override, err := parseOptionalIntEnv("REVEAL_CHUNK_RUNES"); err != nil {
		return TurnConfig{}, err
	} else if override != nil {
		if *override < 1 {
			chunk = 1
		} else {
			chunk = *override
		}
	}

	rate, err := parseOptionalFloatEnv("TURN_RATE")
	if err != nil {
		return TurnConfig{}, err
	}
	turnRate := 0.5
	if rate != nil {
		turnRate = *rate
	}

	burst := 3
	if override, err := parseOptionalIntEnv("TURN_BURST"); err != nil {
		return TurnConfig{}, err
	} else if override != nil && *override > 0 {
		burst = *override
	}

	return TurnConfig{
		RevealDelay:      delay,
		RevealChunkRunes: chunk,
		Rate:             turnRate,
		Burst:            burst,
	}, nil
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// StoreConfig 描述会话持久化配置。
type StoreConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// IdleTTL 控制会话在进程内存中保留多久，过期后从存储重新加载。
	IdleTTL time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreMemory))
	if driver != StoreMemory && driver != StoreRedis {
		return StoreConfig{}, fmt.Errorf("invalid SESSION_STORE value %q", driver)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}
	idleTTL, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Driver:        driver,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		TTL:           ttl,
		IdleTTL:       idleTTL,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

// parseListEnv 解析逗号分隔的列表，空项会被忽略。
func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), defaultValue...)
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" && !contains(items, item) {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return items
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
