package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/store"
)

func TestBuildMessages(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "hi"},
	}

	got := BuildMessages("sys", history, "next")
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleUser, Content: "next"},
	}, got)

	assert.Len(t, BuildMessages("sys", nil, "only"), 2)
}

func TestAppendContext(t *testing.T) {
	assert.Equal(t, "base", AppendContext("base", nil))
	assert.Equal(t,
		"base\n\nUse the following context:\n\n[Context 1]\nfirst\n\n[Context 2]\nsecond\n",
		AppendContext("base", []string{"first", "second"}))
}

func TestHistoryMessagesDropsBlankTurns(t *testing.T) {
	got := historyMessages([]store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: ""},
		{Role: store.RoleUser, Content: "again"},
		{Role: store.RoleAssistant, Content: " \n"},
	})
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleUser, Content: "again"},
	}, got)
}
