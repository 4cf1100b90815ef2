package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/projectdesk/internal/dossier"
	"github.com/user/projectdesk/internal/gitops"
	"github.com/user/projectdesk/internal/llm"
	"github.com/user/projectdesk/internal/orchestrator"
	"github.com/user/projectdesk/internal/store"
)

// ContextName identifies the worker owning the project catalog.
const ContextName = "project-context"

// Context manages project discovery, creation, selection and deletion, and
// walks the user through the template's onboarding questions one at a time.
// It never guesses missing required fields; it asks, using the open-question
// convention. Which project it operates on comes from the conversation
// state, so concurrent conversations never redirect each other's writes.
type Context struct {
	client llm.Client
	store  *store.Store
	git    *gitops.Ops
}

func NewContext(client llm.Client, st *store.Store, git *gitops.Ops) *Context {
	return &Context{client: client, store: st, git: git}
}

func (w *Context) Name() string { return ContextName }

func (w *Context) Description() string {
	return "Manages the catalog of projects: listing, creating, selecting and deleting projects, recording their details, and linking their git repositories. Call it for anything that changes which project is active or what is stored about it."
}

// command is the structured output the model must produce. Untrusted until
// validated against the closed action set.
type command struct {
	Action      string `json:"action"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path,omitempty"`
	Value       any    `json:"value,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
	Base        string `json:"base,omitempty"`
	Message     string `json:"message,omitempty"`
	Push        bool   `json:"push,omitempty"`
	Text        string `json:"text,omitempty"`
}

var knownActions = map[string]bool{
	"list": true, "create": true, "select": true, "delete": true,
	"show": true, "set": true, "clear": true, "clone": true,
	"branch": true, "commit": true, "respond": true,
}

func (w *Context) Invoke(ctx context.Context, state orchestrator.State) (orchestrator.Update, error) {
	if update, handled := w.handleOnboardingAnswer(ctx, state); handled {
		return update, nil
	}

	cmd, err := w.consult(ctx, state)
	if err != nil {
		return orchestrator.Update{}, err
	}
	return w.execute(ctx, state, cmd)
}

// handleOnboardingAnswer checks whether the newest user message answers the
// onboarding question this worker asked last hop. If so the answer is
// recorded at the question's path and the next question (if any) is asked.
func (w *Context) handleOnboardingAnswer(ctx context.Context, state orchestrator.State) (orchestrator.Update, bool) {
	name := strings.TrimSpace(state.ActiveProject)
	if name == "" {
		return orchestrator.Update{}, false
	}
	d, err := w.store.Load(ctx, name)
	if err != nil {
		return orchestrator.Update{}, false
	}
	pending := d.Unanswered(w.store.Template())
	if len(pending) == 0 {
		return orchestrator.Update{}, false
	}
	last := state.LastMessage()
	if last.Role != orchestrator.RoleUser || strings.TrimSpace(last.Content) == "" {
		return orchestrator.Update{}, false
	}
	previous := lastAuthoredBy(state, ContextName)
	if !strings.HasSuffix(strings.TrimSpace(previous), strings.TrimSpace(pending[0].Question)) {
		return orchestrator.Update{}, false
	}

	var nextQuestion string
	var tree map[string]any
	err = w.store.Mutate(ctx, name, func(d *dossier.Dossier) error {
		// Re-derive the question list under the project lock; another
		// conversation may have answered it meanwhile.
		open := d.Unanswered(w.store.Template())
		if len(open) == 0 {
			tree = infoTree(d)
			return nil
		}
		if err := d.Set(open[0].Path, strings.TrimSpace(last.Content)); err != nil {
			return err
		}
		if rest := d.Unanswered(w.store.Template()); len(rest) > 0 {
			nextQuestion = rest[0].Question
		}
		tree = infoTree(d)
		return nil
	})
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't record that: %v", err), false), true
	}

	update := orchestrator.Update{ActiveProjectInfo: tree}
	if nextQuestion != "" {
		update.Messages = []orchestrator.Message{{
			Role: orchestrator.RoleAssistant, Author: ContextName,
			Content: fmt.Sprintf("Noted. %s", nextQuestion),
		}}
		update.AsksUser = true
	} else {
		update.Messages = []orchestrator.Message{{
			Role: orchestrator.RoleAssistant, Author: ContextName,
			Content: fmt.Sprintf("Noted. Project %q is fully set up now.", name),
		}}
	}
	return update, true
}

func (w *Context) consult(ctx context.Context, state orchestrator.State) (command, error) {
	raw, err := w.client.Complete(ctx, w.systemPrompt(state), historyForModel(state))
	if err != nil {
		return command{}, err
	}
	var cmd command
	if err := json.Unmarshal([]byte(extractJSON(raw)), &cmd); err != nil || !knownActions[cmd.Action] {
		// Not a valid command; treat the raw text as a direct reply rather
		// than failing the hop.
		return command{Action: "respond", Text: strings.TrimSpace(raw)}, nil
	}
	return cmd, nil
}

func (w *Context) execute(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	switch cmd.Action {
	case "list":
		return w.executeList(ctx)
	case "create":
		return w.executeCreate(ctx, cmd)
	case "select":
		return w.executeSelect(ctx, cmd)
	case "delete":
		return w.executeDelete(ctx, cmd, state)
	case "show":
		return w.executeShow(ctx, state)
	case "set":
		return w.executeSet(ctx, state, cmd)
	case "clear":
		return w.executeClear(ctx, state, cmd)
	case "clone":
		return w.executeClone(ctx, state, cmd)
	case "branch":
		return w.executeBranch(ctx, state, cmd)
	case "commit":
		return w.executeCommit(ctx, state, cmd)
	default:
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			text = "I manage the project catalog. You can list, create, select or delete projects."
		}
		return reply(ContextName, text, false), nil
	}
}

func (w *Context) executeList(ctx context.Context) (orchestrator.Update, error) {
	records, err := w.store.Records(ctx)
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't read the project list: %v", err), false), nil
	}
	if len(records) == 0 {
		return reply(ContextName,
			"There are no projects yet. To create one, tell me its name and a short description.",
			false), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d projects:\n", len(records))
	for _, record := range records {
		if record.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", record.Name, record.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", record.Name)
		}
	}
	b.WriteString("Tell me which one to select.")
	return reply(ContextName, b.String(), false), nil
}

func (w *Context) executeCreate(ctx context.Context, cmd command) (orchestrator.Update, error) {
	name := strings.TrimSpace(cmd.Name)
	description := strings.TrimSpace(cmd.Description)
	if name == "" || description == "" {
		return reply(ContextName,
			"To create a project I need both a name and a short description. What should it be called, and what is it about?",
			true), nil
	}

	d, err := w.store.Create(ctx, name, description)
	if errors.Is(err, store.ErrAlreadyExists) {
		return reply(ContextName, fmt.Sprintf("A project named %q already exists. Select it, or pick a different name.", name), false), nil
	}
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't create the project: %v", err), false), nil
	}

	update := orchestrator.Update{
		ActiveProject:            orchestrator.StringPtr(name),
		ActiveProjectDescription: orchestrator.StringPtr(description),
		ActiveProjectInfo:        infoTree(d),
	}
	if pending := d.Unanswered(w.store.Template()); len(pending) > 0 {
		update.Messages = []orchestrator.Message{{
			Role: orchestrator.RoleAssistant, Author: ContextName,
			Content: fmt.Sprintf("Project %q created and selected. %s", name, pending[0].Question),
		}}
		update.AsksUser = true
	} else {
		update.Messages = []orchestrator.Message{{
			Role: orchestrator.RoleAssistant, Author: ContextName,
			Content: fmt.Sprintf("Project %q created and selected.", name),
		}}
	}
	return update, nil
}

func (w *Context) executeSelect(ctx context.Context, cmd command) (orchestrator.Update, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return reply(ContextName, "Which project would you like to select?", true), nil
	}

	d, err := w.store.Load(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		// Fuzzy fallback: the user may have given a partial name.
		match, findErr := w.store.FindApproximate(ctx, name)
		if findErr == nil && match != nil {
			d, err = match, nil
		}
	}
	if err != nil || d == nil {
		return reply(ContextName,
			fmt.Sprintf("I couldn't find a project matching %q. Ask me to list the projects to see what exists.", name),
			false), nil
	}

	description := ""
	if record, err := w.store.Record(ctx, d.Project); err == nil {
		description = record.Description
	}
	return orchestrator.Update{
		Messages: []orchestrator.Message{{
			Role: orchestrator.RoleAssistant, Author: ContextName,
			Content: fmt.Sprintf("Project %q is now selected.", d.Project),
		}},
		ActiveProject:            orchestrator.StringPtr(d.Project),
		ActiveProjectDescription: orchestrator.StringPtr(description),
		ActiveProjectInfo:        infoTree(d),
	}, nil
}

func (w *Context) executeDelete(ctx context.Context, cmd command, state orchestrator.State) (orchestrator.Update, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return reply(ContextName, "Which project should I delete?", true), nil
	}
	if err := w.store.Delete(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reply(ContextName, fmt.Sprintf("There is no project named %q.", name), false), nil
		}
		return reply(ContextName, fmt.Sprintf("I couldn't delete %q: %v", name, err), false), nil
	}

	update := reply(ContextName, fmt.Sprintf("Project %q has been deleted.", name), false)
	if state.ActiveProject == name {
		update.ActiveProject = orchestrator.StringPtr("")
		update.ActiveProjectDescription = orchestrator.StringPtr("")
		update.ActiveProjectInfo = map[string]any{}
	}
	return update, nil
}

func (w *Context) executeShow(ctx context.Context, state orchestrator.State) (orchestrator.Update, error) {
	d, update, ok := w.selected(ctx, state, "No project is selected, so there is nothing to show. Select or create one first.")
	if !ok {
		return update, nil
	}
	buf, err := json.MarshalIndent(infoTree(d), "", "  ")
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't render the record: %v", err), false), nil
	}
	return reply(ContextName, fmt.Sprintf("Stored record for %q:\n%s", d.Project, string(buf)), false), nil
}

func (w *Context) executeSet(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	path := strings.TrimSpace(cmd.Path)
	if path == "" {
		return reply(ContextName, "Which field should I record, and what value?", true), nil
	}

	var tree map[string]any
	err := w.store.Mutate(ctx, state.ActiveProject, func(d *dossier.Dossier) error {
		if err := d.Set(path, cmd.Value); err != nil {
			return err
		}
		tree = infoTree(d)
		return nil
	})
	if errors.Is(err, store.ErrNoActiveDossier) {
		return reply(ContextName, "No project is selected. Select one before recording details.", false), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return reply(ContextName, fmt.Sprintf("Project %q no longer exists.", state.ActiveProject), false), nil
	}
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't record %q: %v", path, err), false), nil
	}
	update := reply(ContextName, fmt.Sprintf("Recorded %s for %q.", path, state.ActiveProject), false)
	update.ActiveProjectInfo = tree
	return update, nil
}

func (w *Context) executeClear(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	path := strings.TrimSpace(cmd.Path)

	var tree map[string]any
	err := w.store.Mutate(ctx, state.ActiveProject, func(d *dossier.Dossier) error {
		if err := d.Clear(path); err != nil {
			return err
		}
		tree = infoTree(d)
		return nil
	})
	if errors.Is(err, store.ErrNoActiveDossier) {
		return reply(ContextName, "No project is selected, so there is nothing to clear.", false), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return reply(ContextName, fmt.Sprintf("Project %q no longer exists.", state.ActiveProject), false), nil
	}
	if errors.Is(err, dossier.ErrUnknownPath) {
		return reply(ContextName, fmt.Sprintf("There is no field %q in %q.", path, state.ActiveProject), false), nil
	}
	if err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't clear %q: %v", path, err), false), nil
	}

	target := path
	if target == "" {
		target = "the whole record"
	}
	update := reply(ContextName, fmt.Sprintf("Cleared %s for %q.", target, state.ActiveProject), false)
	update.ActiveProjectInfo = tree
	return update, nil
}

func (w *Context) executeClone(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	d, update, ok := w.selected(ctx, state, "Select a project before linking a repository.")
	if !ok {
		return update, nil
	}
	if w.git == nil {
		return reply(ContextName, "Git operations are not enabled on this server.", false), nil
	}
	remoteURL := strings.TrimSpace(cmd.RemoteURL)
	if remoteURL == "" {
		return reply(ContextName, "What is the repository's remote URL?", true), nil
	}

	localPath, err := w.git.Clone(remoteURL, d.Project)
	if err != nil {
		return reply(ContextName, fmt.Sprintf("Cloning failed: %v", err), false), nil
	}
	branch, err := w.git.DefaultBranch(localPath)
	if err != nil {
		branch = ""
	}

	var tree map[string]any
	err = w.store.Mutate(ctx, d.Project, func(d *dossier.Dossier) error {
		// These fields are discovered at runtime and may not exist in the
		// template; Set accepts them regardless.
		_ = d.Set("version_control.remote_url", remoteURL)
		_ = d.Set("version_control.local_path", localPath)
		if branch != "" {
			_ = d.Set("version_control.default_branch", branch)
		}
		tree = infoTree(d)
		return nil
	})
	if err != nil {
		return reply(ContextName, fmt.Sprintf("Cloned, but saving the record failed: %v", err), false), nil
	}

	result := reply(ContextName,
		fmt.Sprintf("Cloned %s into %s and recorded it for %q.", remoteURL, localPath, d.Project), false)
	result.ActiveProjectInfo = tree
	return result, nil
}

func (w *Context) executeBranch(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	repoPath, update, ok := w.repoForSelected(ctx, state)
	if !ok {
		return update, nil
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return reply(ContextName, "What should the new branch be called?", true), nil
	}
	if err := w.git.CreateBranch(repoPath, strings.TrimSpace(cmd.Base), name); err != nil {
		return reply(ContextName, fmt.Sprintf("I couldn't create the branch: %v", err), false), nil
	}
	return reply(ContextName, fmt.Sprintf("Created and switched to branch %q.", name), false), nil
}

func (w *Context) executeCommit(ctx context.Context, state orchestrator.State, cmd command) (orchestrator.Update, error) {
	repoPath, update, ok := w.repoForSelected(ctx, state)
	if !ok {
		return update, nil
	}
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return reply(ContextName, "What should the commit message be?", true), nil
	}
	if err := w.git.Commit(repoPath, message); err != nil {
		return reply(ContextName, fmt.Sprintf("Committing failed: %v", err), false), nil
	}
	if !cmd.Push {
		return reply(ContextName, "Committed the current changes.", false), nil
	}
	branch, err := w.git.DefaultBranch(repoPath)
	if err != nil {
		return reply(ContextName, fmt.Sprintf("Committed, but I couldn't determine the branch to push: %v", err), false), nil
	}
	if err := w.git.Push(repoPath, "", branch); err != nil {
		return reply(ContextName, fmt.Sprintf("Committed, but pushing failed: %v", err), false), nil
	}
	return reply(ContextName, fmt.Sprintf("Committed and pushed branch %q.", branch), false), nil
}

// selected loads the conversation's chosen project, replying with noneMsg
// when nothing is selected.
func (w *Context) selected(ctx context.Context, state orchestrator.State, noneMsg string) (*dossier.Dossier, orchestrator.Update, bool) {
	d, err := w.store.Load(ctx, state.ActiveProject)
	if errors.Is(err, store.ErrNoActiveDossier) {
		return nil, reply(ContextName, noneMsg, false), false
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, reply(ContextName,
			fmt.Sprintf("Project %q no longer exists. Ask me to list the projects to see what is left.", state.ActiveProject),
			false), false
	}
	if err != nil {
		return nil, reply(ContextName, fmt.Sprintf("I couldn't load %q: %v", state.ActiveProject, err), false), false
	}
	return d, orchestrator.Update{}, true
}

// repoForSelected resolves the selected project's local clone, replying with
// the reason when there is none.
func (w *Context) repoForSelected(ctx context.Context, state orchestrator.State) (string, orchestrator.Update, bool) {
	d, update, ok := w.selected(ctx, state, "Select a project before running git operations.")
	if !ok {
		return "", update, false
	}
	if w.git == nil {
		return "", reply(ContextName, "Git operations are not enabled on this server.", false), false
	}
	value, err := d.Get("version_control.local_path")
	path, _ := value.(string)
	if err != nil || strings.TrimSpace(path) == "" {
		return "", reply(ContextName,
			fmt.Sprintf("Project %q has no linked repository yet. Give me its remote URL to clone first.", d.Project),
			false), false
	}
	return path, orchestrator.Update{}, true
}

func (w *Context) systemPrompt(state orchestrator.State) string {
	var b strings.Builder
	b.WriteString("You manage a catalog of software projects. ")
	b.WriteString("Read the conversation and answer with exactly one JSON object describing the next catalog operation, and nothing else.\n\n")
	b.WriteString("Operations:\n")
	b.WriteString(`- {"action":"list"} list all projects` + "\n")
	b.WriteString(`- {"action":"create","name":NAME,"description":DESC} create a project; leave fields empty rather than inventing them` + "\n")
	b.WriteString(`- {"action":"select","name":NAME} select a project (partial names are fine)` + "\n")
	b.WriteString(`- {"action":"delete","name":NAME} delete a project` + "\n")
	b.WriteString(`- {"action":"show"} show the selected project's stored record` + "\n")
	b.WriteString(`- {"action":"set","path":DOTTED_PATH,"value":VALUE} record a detail of the selected project` + "\n")
	b.WriteString(`- {"action":"clear","path":DOTTED_PATH} clear a field (empty path clears everything)` + "\n")
	b.WriteString(`- {"action":"clone","remote_url":URL} link and clone the project's git repository` + "\n")
	b.WriteString(`- {"action":"branch","name":BRANCH,"base":BASE} create a branch in the project's clone` + "\n")
	b.WriteString(`- {"action":"commit","message":MSG,"push":BOOL} stage and commit the clone, optionally pushing` + "\n")
	b.WriteString(`- {"action":"respond","text":TEXT} reply directly, e.g. to ask the user for a missing field` + "\n")
	b.WriteString("\nNever invent names, descriptions or values the user did not provide; use respond to ask for them instead.\n")
	if state.ActiveProject != "" {
		fmt.Fprintf(&b, "\nThe currently selected project is %q.\n", state.ActiveProject)
	} else {
		b.WriteString("\nNo project is currently selected.\n")
	}
	return b.String()
}

func lastAuthoredBy(state orchestrator.State, author string) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if msg.Role == orchestrator.RoleAssistant {
			if msg.Author == author {
				return msg.Content
			}
			return ""
		}
	}
	return ""
}

func infoTree(d *dossier.Dossier) map[string]any {
	value, err := d.Get("")
	if err != nil {
		return map[string]any{}
	}
	tree, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return tree
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
