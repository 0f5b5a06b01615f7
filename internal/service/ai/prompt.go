package ai

import (
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
)

// replyTemplate 组装系统指令、记忆上下文与本轮用户输入。
func replyTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
}

const summarySystemPrompt = "Progressively summarize the lines of conversation provided, " +
	"adding onto the previous summary and returning a new summary. " +
	"Keep names, facts, decisions and open questions. Reply with the summary only."

// summaryTemplate 将新的对话行折叠进已有摘要。
func summaryTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage("Current summary:\n{summary}\n\nNew lines of conversation:\n{lines}\n\nNew summary:"),
	)
}

// SystemPrompt returns the instruction for a session: the custom prompt when
// set, otherwise the prompt of the selected preset.
func SystemPrompt(presets preset.Store, settings chat.Settings) string {
	if custom := strings.TrimSpace(settings.SystemPrompt); custom != "" {
		return custom
	}
	return preset.Resolve(presets, settings.PresetID).Prompt
}

// historyMessages converts memory context into model messages.
func historyMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}
	return history
}
