package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/user/projectdesk/internal/llm"
)

type fakeClient struct {
	calls    int
	requests [][]llm.Message
	respond  func(call int, messages []llm.Message) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	call := f.calls
	f.calls++
	f.requests = append(f.requests, messages)
	return f.respond(call, messages)
}

type fakeWorker struct {
	name        string
	description string
	invoke      func(ctx context.Context, state State) (Update, error)
}

func (f *fakeWorker) Name() string        { return f.name }
func (f *fakeWorker) Description() string { return f.description }

func (f *fakeWorker) Invoke(ctx context.Context, state State) (Update, error) {
	if f.invoke == nil {
		return Update{Messages: []Message{{Role: RoleAssistant, Author: f.name, Content: "done."}}}, nil
	}
	return f.invoke(ctx, state)
}

func newTestRegistry(t *testing.T, workers ...Worker) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, w := range workers {
		if err := registry.Register(w); err != nil {
			t.Fatalf("Register(%s) error = %v", w.Name(), err)
		}
	}
	return registry
}

func scripted(responses ...string) *fakeClient {
	return &fakeClient{respond: func(call int, messages []llm.Message) (string, error) {
		if call >= len(responses) {
			call = len(responses) - 1
		}
		return responses[call], nil
	}}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeWorker{name: "alpha"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(&fakeWorker{name: "alpha"}); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if err := registry.Register(&fakeWorker{name: ""}); err == nil {
		t.Error("empty-name Register() should fail")
	}
}

func TestRegistryListSorted(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "zeta"},
		&fakeWorker{name: "alpha"},
	)
	names := registry.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v", names)
	}
}

func TestDecideQuestionInterrupt(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat"},
		&fakeWorker{name: "catalog"},
	)
	client := scripted(`{"next":"catalog"}`)
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{
		{Role: RoleUser, Content: "set up a project"},
		{Role: RoleAssistant, Author: "catalog", Content: "What should it be called?"},
	}}

	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Phase != PhaseAwaitingUser {
		t.Errorf("phase = %v, want PhaseAwaitingUser", decision.Phase)
	}
	if client.calls != 0 {
		t.Errorf("model consulted %d times for a question interrupt", client.calls)
	}
}

func TestDecideQuestionInterruptViaFlag(t *testing.T) {
	registry := newTestRegistry(t, &fakeWorker{name: "chat"})
	supervisor, err := NewSupervisor(scripted(`{"next":"chat"}`), registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Author: "chat", Content: "Tell me the project name."},
		},
		PendingQuestion: true,
	}

	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Phase != PhaseAwaitingUser {
		t.Errorf("phase = %v, want PhaseAwaitingUser", decision.Phase)
	}
}

func TestDecideNoInterruptForUserQuestion(t *testing.T) {
	registry := newTestRegistry(t, &fakeWorker{name: "chat"})
	client := scripted(`{"next":"chat"}`)
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{{Role: RoleUser, Content: "what projects exist?"}}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Phase != PhaseRouting || decision.Next != "chat" {
		t.Errorf("decision = %+v, want routing to chat", decision)
	}
}

func TestDecideStripsCodeFences(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat"},
		&fakeWorker{name: "catalog"},
	)
	client := scripted("```json\n{\"next\":\"catalog\",\"rationale\":\"user wants the list\"}\n```")
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{{Role: RoleUser, Content: "list projects"}}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Next != "catalog" {
		t.Errorf("next = %q", decision.Next)
	}
	if decision.Rationale != "user wants the list" {
		t.Errorf("rationale = %q", decision.Rationale)
	}
}

func TestDecideRetriesInvalidAnswerOnce(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat"},
		&fakeWorker{name: "catalog"},
	)
	client := scripted(`{"next":"nonexistent"}`, `{"next":"catalog"}`)
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{{Role: RoleUser, Content: "list projects"}}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Next != "catalog" {
		t.Errorf("next = %q, want catalog after retry", decision.Next)
	}
	if client.calls != 2 {
		t.Fatalf("model calls = %d, want 2", client.calls)
	}
	retryMsg := client.requests[1][len(client.requests[1])-1]
	if !strings.Contains(retryMsg.Content, "was not valid") {
		t.Errorf("retry feedback missing: %q", retryMsg.Content)
	}
}

func TestDecideInvalidTwiceFinishesThroughFallback(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat"},
		&fakeWorker{name: "catalog"},
	)
	client := scripted("no json here", "still not json")
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{{Role: RoleUser, Content: "hm"}}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Phase != PhaseRouting || decision.Next != "chat" || !decision.Final {
		t.Errorf("decision = %+v, want final hop through fallback", decision)
	}
}

func TestDecideRejectsRepeatWorker(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat"},
		&fakeWorker{name: "catalog"},
	)
	client := scripted(`{"next":"catalog"}`, `{"next":"chat"}`)
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{
		{Role: RoleUser, Content: "list projects"},
		{Role: RoleAssistant, Author: "catalog", Content: "There are 2 projects."},
	}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Next != "chat" {
		t.Errorf("next = %q, want chat after repeat rejection", decision.Next)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2", client.calls)
	}
}

func TestDecideFinishAfterFallbackIsDone(t *testing.T) {
	registry := newTestRegistry(t, &fakeWorker{name: "chat"})
	client := scripted(`{"next":"finish"}`)
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{
		{Role: RoleUser, Content: "thanks"},
		{Role: RoleAssistant, Author: "chat", Content: "You're welcome."},
	}}
	decision, err := supervisor.Decide(context.Background(), state)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Phase != PhaseDone {
		t.Errorf("phase = %v, want PhaseDone", decision.Phase)
	}
}

func TestDecidePropagatesClientError(t *testing.T) {
	registry := newTestRegistry(t, &fakeWorker{name: "chat"})
	client := &fakeClient{respond: func(call int, messages []llm.Message) (string, error) {
		return "", fmt.Errorf("%w: upstream down", llm.ErrCollaborator)
	}}
	supervisor, err := NewSupervisor(client, registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	state := State{Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	if _, err := supervisor.Decide(context.Background(), state); err == nil {
		t.Error("Decide() should propagate the client error")
	}
}

func TestSystemPromptListsWorkersAndProject(t *testing.T) {
	registry := newTestRegistry(t,
		&fakeWorker{name: "chat", description: "general conversation"},
		&fakeWorker{name: "catalog", description: "manages projects"},
	)
	supervisor, err := NewSupervisor(scripted("{}"), registry, "chat")
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}

	prompt := supervisor.systemPrompt(State{ActiveProject: "atlas"}, "catalog")
	for _, want := range []string{"catalog: manages projects", `"atlas"`, "finish", "Do not select that worker again"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
