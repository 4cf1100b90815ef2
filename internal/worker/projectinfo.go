package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/projectdesk/internal/llm"
	"github.com/user/projectdesk/internal/orchestrator"
)

// ProjectInfoName identifies the worker answering questions about the
// active project.
const ProjectInfoName = "project-info"

// ProjectInfo answers questions scoped to the active project's dossier. It
// refuses when no project is selected and never fabricates values that are
// not stored.
type ProjectInfo struct {
	client llm.Client
}

func NewProjectInfo(client llm.Client) *ProjectInfo {
	return &ProjectInfo{client: client}
}

func (w *ProjectInfo) Name() string { return ProjectInfoName }

func (w *ProjectInfo) Description() string {
	return "Answers questions about the currently selected project using its stored information. Only useful once a project has been selected; do not call it otherwise."
}

func (w *ProjectInfo) Invoke(ctx context.Context, state orchestrator.State) (orchestrator.Update, error) {
	if state.ActiveProject == "" {
		return reply(ProjectInfoName,
			"No project is currently selected, so I have no project information to draw from. Select or create a project first.",
			false), nil
	}

	content, err := w.client.Complete(ctx, w.systemPrompt(state), historyForModel(state))
	if err != nil {
		return orchestrator.Update{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		content = fmt.Sprintf("I don't have that information recorded for %q.", state.ActiveProject)
	}
	return reply(ProjectInfoName, content, false), nil
}

func (w *ProjectInfo) systemPrompt(state orchestrator.State) string {
	info := "{}"
	if state.ActiveProjectInfo != nil {
		if buf, err := json.MarshalIndent(state.ActiveProjectInfo, "", "  "); err == nil {
			info = string(buf)
		}
	}
	var b strings.Builder
	b.WriteString("You answer questions about a single software project using only the stored record below. ")
	b.WriteString("Fields that are null or empty are unknown: say so plainly instead of inventing a value. ")
	b.WriteString("Do not speculate beyond the record and the conversation.\n\n")
	fmt.Fprintf(&b, "Project: %s\n", state.ActiveProject)
	if state.ActiveProjectDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", state.ActiveProjectDescription)
	}
	fmt.Fprintf(&b, "Record:\n%s\n", info)
	return b.String()
}
