package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrRoutingExhausted marks a turn that burned its hop budget without
// reaching a terminal phase. The turn is aborted; the store is untouched
// because workers persist only completed mutations.
var ErrRoutingExhausted = errors.New("routing exhausted")

const defaultMaxHops = 20

// Loop drives supervisor and workers for one turn at a time. One loop owns
// one conversation; independent conversations run independent loops.
type Loop struct {
	supervisor *Supervisor
	registry   *Registry
	maxHops    int
}

func NewLoop(supervisor *Supervisor, registry *Registry, maxHops int) (*Loop, error) {
	if supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker registry is required")
	}
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	return &Loop{supervisor: supervisor, registry: registry, maxHops: maxHops}, nil
}

// Process runs one full turn: append the user message, then alternate
// supervisor decisions and worker invocations until a terminal phase. The
// returned text is the final worker-authored message.
func (l *Loop) Process(ctx context.Context, state *State, userMessage string) (string, error) {
	if state == nil {
		return "", fmt.Errorf("conversation state is required")
	}
	state.AppendUser(userMessage)
	state.Err = ""

	for hop := 0; ; hop++ {
		if hop >= l.maxHops {
			return "", fmt.Errorf("%w: %d hops without termination", ErrRoutingExhausted, hop)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		decision, err := l.supervisor.Decide(ctx, state.Snapshot())
		if err != nil {
			return "", fmt.Errorf("routing hop %d: %w", hop, err)
		}

		switch decision.Phase {
		case PhaseAwaitingUser, PhaseDone:
			return state.LastAssistantContent(), nil
		}

		worker := l.registry.Get(decision.Next)
		if worker == nil {
			return "", fmt.Errorf("routing hop %d: unknown worker %q", hop, decision.Next)
		}
		slog.Debug("invoking worker",
			"conversation", state.ConversationID,
			"hop", hop,
			"worker", decision.Next,
			"rationale", decision.Rationale)

		update, err := worker.Invoke(ctx, state.Snapshot())
		if err != nil {
			// Workers translate their own domain errors into message content;
			// an error here is a collaborator or programming failure.
			slog.Error("worker failed",
				"conversation", state.ConversationID,
				"worker", decision.Next,
				"error", err)
			state.Merge(Update{
				Messages: []Message{{
					Role:    RoleAssistant,
					Author:  worker.Name(),
					Content: "I encountered an error while handling that. Please try again.",
				}},
				Err: err.Error(),
			})
			return state.LastAssistantContent(), nil
		}
		state.Merge(update)

		if decision.Final {
			return state.LastAssistantContent(), nil
		}
	}
}
