package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, "", Format(nil))
}

func TestFormatSingleExchange(t *testing.T) {
	got := Format([]chat.Message{
		chat.NewMessage(chat.RoleUser, "Hello"),
		chat.NewMessage(chat.RoleAssistant, "Hi! How can I help?"),
	})
	assert.Equal(t, "USER: Hello\n\nAI: Hi! How can I help?", got)

	var lines []string
	for _, line := range strings.Split(got, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Len(t, lines, 2)
}

func TestFormatBlocksStartWithLabels(t *testing.T) {
	msgs := []chat.Message{
		chat.NewMessage(chat.RoleUser, "one"),
		chat.NewMessage(chat.RoleAssistant, "two"),
		chat.NewMessage(chat.RoleUser, "three"),
		chat.NewMessage(chat.RoleAssistant, "four"),
	}

	blocks := strings.Split(Format(msgs), "\n\n")
	require.Len(t, blocks, len(msgs))
	for i, block := range blocks {
		if msgs[i].Role == chat.RoleUser {
			assert.True(t, strings.HasPrefix(block, "USER: "), block)
		} else {
			assert.True(t, strings.HasPrefix(block, "AI: "), block)
		}
	}
}

func TestFormatKeepsEmbeddedNewlines(t *testing.T) {
	got := Format([]chat.Message{chat.NewMessage(chat.RoleAssistant, "line1\nline2")})
	assert.Equal(t, "AI: line1\nline2", got)
}

func TestTextExporter(t *testing.T) {
	var exporter Exporter = TextExporter{}
	data, err := exporter.Export([]chat.Message{chat.NewMessage(chat.RoleUser, "hi")})
	require.NoError(t, err)
	assert.Equal(t, "USER: hi", string(data))
	assert.Equal(t, ".txt", exporter.FileExtension())
	assert.True(t, strings.HasSuffix(Filename, exporter.FileExtension()))
}
