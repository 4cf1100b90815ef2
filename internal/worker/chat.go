package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/projectdesk/internal/llm"
	"github.com/user/projectdesk/internal/orchestrator"
)

// ChatName is the fallback worker the supervisor routes "finish" through.
const ChatName = "conversation"

// Chat is the catch-all conversational worker. It handles small talk,
// clarifications, and produces the human-readable closing message of a turn.
type Chat struct {
	client llm.Client
}

func NewChat(client llm.Client) *Chat {
	return &Chat{client: client}
}

func (w *Chat) Name() string { return ChatName }

func (w *Chat) Description() string {
	return "Handles the conversation with the user: greetings, clarifications, and wrapping up a request with a final answer when no specialized worker applies."
}

func (w *Chat) Invoke(ctx context.Context, state orchestrator.State) (orchestrator.Update, error) {
	content, err := w.client.Complete(ctx, w.systemPrompt(state), historyForModel(state))
	if err != nil {
		return orchestrator.Update{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		content = "I'm here to help you keep track of your projects. What would you like to do?"
	}
	return orchestrator.Update{
		Messages: []orchestrator.Message{{
			Role:    orchestrator.RoleAssistant,
			Author:  ChatName,
			Content: content,
		}},
	}, nil
}

func (w *Chat) systemPrompt(state orchestrator.State) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant for software developers managing project information. ")
	b.WriteString("Answer from the conversation history and the information provided by other workers. ")
	b.WriteString("If you do not have the information, say that you don't know instead of making something up. ")
	b.WriteString("Answer in the same language the user writes in.\n")
	if state.ActiveProject != "" {
		fmt.Fprintf(&b, "\nThe currently selected project is %q.", state.ActiveProject)
		if state.ActiveProjectDescription != "" {
			fmt.Fprintf(&b, " Description: %s", state.ActiveProjectDescription)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("\nNo project is selected. If the user seems to want project details, suggest selecting or creating a project.\n")
	}
	return b.String()
}
