package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Worker is one conversational capability: a name the supervisor routes by,
// a description the routing prompt is built from, and an invocation that
// reads a state snapshot and returns a partial update.
//
// Workers must be safe to invoke at most once per turn, must not mutate
// anything outside their returned update, and signal "I need user input"
// via Update.AsksUser or a message ending in "?", never via an error.
type Worker interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, state State) (Update, error)
}

// Registry holds the polymorphic worker set, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

func (r *Registry) Register(w Worker) error {
	if w == nil {
		return fmt.Errorf("worker is required")
	}
	name := strings.TrimSpace(w.Name())
	if name == "" {
		return fmt.Errorf("worker name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("duplicate worker %q", name)
	}
	r.workers[name] = w
	return nil
}

func (r *Registry) Get(name string) Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[name]
}

// List returns all workers sorted by name for stable prompt construction.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []string {
	workers := r.List()
	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = w.Name()
	}
	return names
}
