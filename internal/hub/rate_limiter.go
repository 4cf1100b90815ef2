package hub

import (
	"sync"
	"time"
)

// RateLimiter coalesces per-project event notifications so a burst of record
// writes produces one message per batching interval instead of one per write.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingEvents
	interval time.Duration
	onFlush  func(project string, msg EventMessage)
}

type pendingEvents struct {
	events []string
	ts     int64
	timer  *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(string, EventMessage)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingEvents),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(msg EventMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	project := msg.Project
	p, exists := r.pending[project]
	if !exists {
		p = &pendingEvents{}
		r.pending[project] = p
	}

	p.events = append(p.events, msg.Events...)
	if msg.Ts > p.ts {
		p.ts = msg.Ts
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.flushProject(project)
		})
	}
}

func (r *RateLimiter) flushProject(project string) {
	r.mu.Lock()
	p, exists := r.pending[project]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, project)
	r.mu.Unlock()

	if r.onFlush != nil && len(p.events) > 0 {
		r.onFlush(project, EventMessage{
			Type:    "event",
			Project: project,
			Events:  p.events,
			Ts:      p.ts,
		})
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	projects := make([]string, 0, len(r.pending))
	for p := range r.pending {
		projects = append(projects, p)
	}
	r.mu.Unlock()

	for _, p := range projects {
		r.flushProject(p)
	}
}
