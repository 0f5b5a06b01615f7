// Package transcript renders a conversation as a plain-text download.
package transcript

import (
	"strings"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Filename is the suggested download name.
const Filename = "chat_history.txt"

// Label returns the uppercase speaker label used in exports.
func Label(role chat.Role) string {
	switch role {
	case chat.RoleUser:
		return "USER"
	case chat.RoleAssistant:
		return "AI"
	default:
		return strings.ToUpper(string(role))
	}
}

// Format renders msgs as "<LABEL>: <content>" entries separated by a blank
// line. Content is written as-is, embedded newlines included.
func Format(msgs []chat.Message) string {
	if len(msgs) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(Label(msg.Role))
		builder.WriteString(": ")
		builder.WriteString(msg.Content)
	}
	return builder.String()
}

// Exporter turns a conversation into a downloadable document.
type Exporter interface {
	Export(msgs []chat.Message) ([]byte, error)
	FileExtension() string
	MimeType() string
}

// TextExporter writes the Format rendering as UTF-8 text.
type TextExporter struct{}

func (TextExporter) Export(msgs []chat.Message) ([]byte, error) {
	return []byte(Format(msgs)), nil
}

func (TextExporter) FileExtension() string { return ".txt" }

func (TextExporter) MimeType() string { return "text/plain; charset=utf-8" }
