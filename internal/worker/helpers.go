package worker

import (
	"fmt"

	"github.com/user/projectdesk/internal/llm"
	"github.com/user/projectdesk/internal/orchestrator"
)

func historyForModel(state orchestrator.State) []llm.Message {
	out := make([]llm.Message, 0, len(state.Messages))
	for _, msg := range state.Messages {
		role := llm.RoleUser
		content := msg.Content
		if msg.Role == orchestrator.RoleAssistant {
			role = llm.RoleAssistant
			if msg.Author != "" {
				content = fmt.Sprintf("[%s] %s", msg.Author, msg.Content)
			}
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

func reply(author, content string, asksUser bool) orchestrator.Update {
	return orchestrator.Update{
		Messages: []orchestrator.Message{{
			Role:    orchestrator.RoleAssistant,
			Author:  author,
			Content: content,
		}},
		AsksUser: asksUser,
	}
}
