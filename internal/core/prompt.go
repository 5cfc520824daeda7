package core

import (
	"fmt"
	"strings"

	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/store"
)

// BuildMessages returns the system message, then history in the given order,
// then one user message carrying prompt.
func BuildMessages(system string, history []llm.Message, prompt string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return messages
}

// AppendContext appends retrieved chunks to system, labeled by rank.
func AppendContext(system string, chunks []string) string {
	if len(chunks) == 0 {
		return system
	}
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nUse the following context:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\n[Context %d]\n%s\n", i+1, chunk)
	}
	return b.String()
}

// historyMessages converts stored turns, skipping blank ones such as the
// answer of a turn cancelled before its first token.
func historyMessages(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}
