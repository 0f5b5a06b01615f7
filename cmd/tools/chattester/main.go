package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
	"github.com/zhouzirui/z-chat/backend/internal/transcript"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	apiKey := flag.String("key", "", "模型 API Key，留空则使用 GROQ_API_KEY")
	modelName := flag.String("model", cfg.AI.DefaultModel, "模型名称")
	presetID := flag.String("preset", chat.DefaultPresetID, "提示词预设")
	strategy := flag.String("memory", "buffer", "记忆策略: buffer / summary / window")
	window := flag.Int("window", chat.DefaultWindowSize, "window 策略保留的轮数")
	temperature := flag.Float64("temperature", chat.DefaultTemperature, "采样温度")
	maxTokens := flag.Int("max-tokens", chat.DefaultMaxTokens, "最大输出 token 数")
	exportPath := flag.String("export", "", "退出时导出对话到该文件")
	timeout := flag.Duration("timeout", 2*time.Minute, "单轮请求超时时间")

	flag.Parse()

	ctx := context.Background()
	presets := preset.NewMemoryStore(preset.Seed())

	aiSvc, err := ai.NewService(ctx, presets, cfg.AI)
	if err != nil {
		log.Fatalf("初始化模型失败: %v", err)
	}

	chatSvc := chatservice.NewService(
		chatservice.WithModels(cfg.AI.Models),
		chatservice.WithSummarizer(aiSvc.Summarize),
	)

	parsed, err := chat.ParseStrategy(*strategy)
	if err != nil {
		log.Fatal(err)
	}
	settings := chat.Settings{
		APIKey:      *apiKey,
		Model:       *modelName,
		Temperature: *temperature,
		MaxTokens:   *maxTokens,
		PresetID:    *presetID,
		Memory:      chat.MemoryConfig{Strategy: parsed, WindowSize: *window},
	}

	session, err := chatSvc.CreateSession(ctx, settings)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	log.Printf("会话 %s 已创建 model=%s memory=%s", session.ID, settings.Model, session.MemoryKey)

	turns := turn.NewService(chatSvc, aiSvc, cfg.Turn)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\nYOU> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			exportAndExit(ctx, chatSvc, session.ID, *exportPath)
			return
		case "/clear":
			if err := chatSvc.Clear(ctx, session.ID); err != nil {
				log.Printf("清空失败: %v", err)
			}
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, *timeout)
		fmt.Print("AI> ")
		_, err := turns.Run(turnCtx, session.ID, line, func(chunk string) error {
			_, err := fmt.Print(chunk)
			return err
		})
		cancel()
		fmt.Println()
		if err != nil {
			log.Printf("[ERROR] %v", err)
		}
	}

	exportAndExit(ctx, chatSvc, session.ID, *exportPath)
}

func exportAndExit(ctx context.Context, chatSvc *chatservice.Service, sessionID, path string) {
	if path == "" {
		return
	}

	messages, err := chatSvc.LoadTranscript(ctx, sessionID)
	if err != nil {
		log.Fatalf("读取对话失败: %v", err)
	}
	if len(messages) == 0 {
		log.Println("对话为空，跳过导出")
		return
	}
	if err := os.WriteFile(path, []byte(transcript.Format(messages)), 0o644); err != nil {
		log.Fatalf("导出失败: %v", err)
	}
	log.Printf("对话已导出到 %s", path)
}
