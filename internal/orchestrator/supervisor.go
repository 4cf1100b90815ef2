package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/projectdesk/internal/llm"
)

// Phase is the supervisor's state after one routing decision.
type Phase int

const (
	// PhaseRouting means a worker was chosen for the next hop.
	PhaseRouting Phase = iota
	// PhaseAwaitingUser ends the turn because a worker asked the human a
	// question.
	PhaseAwaitingUser
	// PhaseDone ends the turn; the final assistant message is the answer.
	PhaseDone
)

// Decision is the supervisor's per-hop output.
type Decision struct {
	Phase     Phase
	Next      string
	Rationale string
	// Final marks the hop that closes the turn: the chosen worker runs once
	// more and then the loop stops without consulting the supervisor again.
	Final bool
}

// FinishRoute is the reserved routing value the model uses to end a turn.
const FinishRoute = "finish"

// routerOutput is the shape the model must answer with. It is untrusted
// until validated against the registered worker names.
type routerOutput struct {
	Next      string `json:"next"`
	Rationale string `json:"rationale,omitempty"`
}

// Supervisor decides, once per hop, which worker acts next. Termination is
// modeled as one final hop through the fallback worker so the turn always
// ends with a human-readable message.
type Supervisor struct {
	client   llm.Client
	registry *Registry
	fallback string
}

func NewSupervisor(client llm.Client, registry *Registry, fallbackWorker string) (*Supervisor, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker registry is required")
	}
	if registry.Get(fallbackWorker) == nil {
		return nil, fmt.Errorf("fallback worker %q is not registered", fallbackWorker)
	}
	return &Supervisor{client: client, registry: registry, fallback: fallbackWorker}, nil
}

// Decide evaluates the transition rules for the current state.
func (s *Supervisor) Decide(ctx context.Context, state State) (Decision, error) {
	last := state.LastMessage()
	lastWorker := ""
	if last.Role == RoleAssistant && s.registry.Get(last.Author) != nil {
		lastWorker = last.Author
	}

	// A worker that just asked the human a question must not be followed by
	// another worker; control returns to the user.
	if lastWorker != "" && (state.PendingQuestion || endsInQuestion(last.Content)) {
		return Decision{Phase: PhaseAwaitingUser}, nil
	}

	decision, err := s.consult(ctx, state, lastWorker)
	if err != nil {
		return Decision{}, err
	}

	if decision.Next == FinishRoute {
		if lastWorker == s.fallback {
			// The fallback already produced the closing message.
			return Decision{Phase: PhaseDone, Rationale: decision.Rationale}, nil
		}
		return Decision{Phase: PhaseRouting, Next: s.fallback, Rationale: decision.Rationale, Final: true}, nil
	}
	return Decision{Phase: PhaseRouting, Next: decision.Next, Rationale: decision.Rationale}, nil
}

// consult asks the model for a routing decision and validates it against
// the closed set of worker names plus "finish". One retry is allowed for an
// invalid answer; after that the turn finishes through the fallback.
func (s *Supervisor) consult(ctx context.Context, state State, lastWorker string) (routerOutput, error) {
	system := s.systemPrompt(state, lastWorker)
	messages := historyForModel(state)

	var lastRaw string
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Your previous answer %q was not valid. Reply with exactly one JSON object as instructed.", lastRaw),
			})
		}
		raw, err := s.client.Complete(ctx, system, messages)
		if err != nil {
			return routerOutput{}, err
		}
		lastRaw = raw
		out, ok := s.parseDecision(raw, lastWorker)
		if ok {
			return out, nil
		}
	}
	return routerOutput{Next: FinishRoute, Rationale: "router output invalid twice; closing the turn"}, nil
}

func (s *Supervisor) parseDecision(raw, lastWorker string) (routerOutput, bool) {
	var out routerOutput
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return routerOutput{}, false
	}
	out.Next = strings.TrimSpace(out.Next)
	if strings.EqualFold(out.Next, FinishRoute) {
		out.Next = FinishRoute
		return out, true
	}
	if s.registry.Get(out.Next) == nil {
		return routerOutput{}, false
	}
	// The same worker never runs twice without an intervening user message.
	if out.Next == lastWorker {
		return routerOutput{}, false
	}
	return out, true
}

func (s *Supervisor) systemPrompt(state State, lastWorker string) string {
	var b strings.Builder
	b.WriteString("You are a supervisor routing a conversation between the user and the following workers:\n")
	for _, w := range s.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name(), w.Description())
	}
	if state.ActiveProject != "" {
		fmt.Fprintf(&b, "\nThe currently selected project is %q.", state.ActiveProject)
		if state.ActiveProjectDescription != "" {
			fmt.Fprintf(&b, " Its description: %s", state.ActiveProjectDescription)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("\nNo project is currently selected.\n")
	}
	if lastWorker != "" {
		fmt.Fprintf(&b, "\nThe last message was produced by worker %q. Do not select that worker again before the user has replied.\n", lastWorker)
	}
	b.WriteString("\nGiven the conversation, decide which worker acts next. ")
	b.WriteString("Each worker performs a task and reports back. When the user's request has been answered, choose \"finish\". ")
	fmt.Fprintf(&b, "Respond with exactly one JSON object of the form {\"next\": NAME, \"rationale\": WHY} and nothing else, where NAME is one of: %s, %s.",
		strings.Join(s.registry.Names(), ", "), FinishRoute)
	return b.String()
}

func historyForModel(state State) []llm.Message {
	out := make([]llm.Message, 0, len(state.Messages))
	for _, msg := range state.Messages {
		role := llm.RoleUser
		content := msg.Content
		if msg.Role == RoleAssistant {
			role = llm.RoleAssistant
			if msg.Author != "" {
				content = fmt.Sprintf("[%s] %s", msg.Author, msg.Content)
			}
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	// Some models wrap the object in prose; take the outermost braces.
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}
