package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler"
	"github.com/zhouzirui/z-chat/backend/internal/handler/session"
	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	presetStore, err := loadPresets(cfg.PresetsFile)
	if err != nil {
		log.Fatalf("failed to load presets: %v", err)
	}

	store, err := newSessionStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}

	aiService, err := ai.NewService(ctx, presetStore, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	if cfg.AI.HasDefaultCredential() {
		log.Printf("AI service ready provider=%s default model=%s", cfg.AI.Provider, cfg.AI.DefaultModel)
	} else {
		log.Printf("AI service ready provider=%s; no server credential, users must supply an API key", cfg.AI.Provider)
	}

	chatService := chat.NewService(
		chat.WithStore(store),
		chat.WithModels(cfg.AI.Models),
		chat.WithSummarizer(aiService.Summarize),
		chat.WithIdleTTL(cfg.Store.IdleTTL),
	)
	defer func() {
		if err := chatService.Close(); err != nil {
			log.Printf("warning: failed to close session store: %v", err)
		}
	}()

	turnService := turn.NewService(chatService, aiService, cfg.Turn)
	chatService.OnForget(turnService.Forget)
	go chatService.RunJanitor(ctx, time.Minute)

	router := handler.NewRouter(presetStore, chatService, turnService, session.Options{
		Models:           cfg.AI.Models,
		Defaults:         cfg.AI.SessionDefaults(),
		ServerCredential: cfg.AI.HasDefaultCredential(),
	})

	startServer(ctx, cfg.Server, router)
}

// loadPresets 合并内置预设与可选的 TOML 预设文件
func loadPresets(path string) (preset.Store, error) {
	if path == "" {
		return preset.NewMemoryStore(preset.Seed()), nil
	}

	extra, err := preset.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d presets from %s", len(extra), path)
	return preset.NewMemoryStore(preset.Seed(), extra), nil
}

func newSessionStore(ctx context.Context, cfg config.StoreConfig) (chat.Store, error) {
	if cfg.Driver != config.StoreRedis {
		log.Printf("session store: in-memory ttl=%s", cfg.TTL)
		return chat.NewMemoryStore(cfg.TTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}

	log.Printf("session store: redis addr=%s db=%d ttl=%s", cfg.RedisAddr, cfg.RedisDB, cfg.TTL)
	return chat.NewRedisStore(client, cfg.TTL), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
