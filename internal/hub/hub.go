package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 100 * time.Millisecond

// ChatFunc handles one user turn for the given conversation and returns the
// assistant's reply. Calls for the same conversation arrive sequentially.
type ChatFunc func(ctx context.Context, conversationID, text string) (ReplyMessage, error)

type Hub struct {
	clients      map[string]*Client
	register     chan *clientRegistration
	unregister   chan *Client
	broadcast    chan hubBroadcast
	onChat       ChatFunc
	token        string
	mu           sync.RWMutex
	projects     []ProjectInfo
	projectsMu   sync.RWMutex
	rateLimiter  *RateLimiter
	batchEnabled bool
	ctxWrap      *ctxWrapper
	running      atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client          *Client
	initialProjects []byte
}

func New(token string, onChat ChatFunc) *Hub {
	h := &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *clientRegistration, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan hubBroadcast, 256),
		onChat:       onChat,
		token:        token,
		batchEnabled: true,
		ctxWrap:      &ctxWrapper{ctx: context.Background()},
	}
	h.rateLimiter = NewRateLimiter(defaultBatchInterval, func(project string, msg EventMessage) {
		h.sendEvent(msg)
	})
	return h
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialProjects != nil {
				select {
				case reg.client.send <- reg.initialProjects:
				default:
				}
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			log.Printf("client connected: %s (total: %d)", reg.client.id, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("client disconnected: %s (total: %d)", client.id, h.ClientCount())

		case bc := <-h.broadcast:
			h.broadcastToClients(bc)
		}
	}
}

func (h *Hub) broadcastToClients(bc hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsProject(bc.project) {
			continue
		}
		select {
		case c.send <- bc.data:
		default:
			log.Printf("client %s send buffer full, dropping message", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := newClient(conn, h)

	h.projectsMu.RLock()
	projects := h.projects
	h.projectsMu.RUnlock()
	if projects == nil {
		projects = []ProjectInfo{}
	}

	msg := ProjectsMessage{Type: "projects", List: projects}
	initialProjects, _ := json.Marshal(msg)

	select {
	case h.register <- &clientRegistration{client: client, initialProjects: initialProjects}:
	default:
		log.Printf("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// NotifyEvent reports a project record change to subscribers. Batched by
// default.
func (h *Hub) NotifyEvent(project string, events ...string) {
	msg := EventMessage{Type: "event", Project: project, Events: events, Ts: time.Now().Unix()}
	if h.batchEnabled && h.rateLimiter != nil {
		h.rateLimiter.Add(msg)
	} else {
		h.sendEvent(msg)
	}
}

func (h *Hub) sendEvent(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling event message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, project: msg.Project}:
	default:
		log.Printf("broadcast channel full, dropping event message")
	}
}

// BroadcastProjects replaces the catalog snapshot and pushes it to every
// client regardless of subscriptions.
func (h *Hub) BroadcastProjects(projects []ProjectInfo) {
	h.projectsMu.Lock()
	h.projects = projects
	h.projectsMu.Unlock()

	msg := ProjectsMessage{Type: "projects", List: projects}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling projects message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data}:
	default:
		log.Printf("broadcast channel full, dropping projects message")
	}
}

func (h *Hub) SendError(client *Client, message string) {
	msg := ErrorMessage{Type: "error", Message: message}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling error message: %v", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleChat(c *Client, text string) {
	if h.onChat == nil {
		h.SendError(c, "chat is not available")
		return
	}
	reply, err := h.onChat(h.getContext(), c.conversationID, text)
	if err != nil {
		log.Printf("chat error for client %s: %v", c.id, err)
		h.SendError(c, "the assistant could not process that message")
		return
	}
	reply.Type = "reply"
	data, err := json.Marshal(reply)
	if err != nil {
		log.Printf("error marshaling reply message: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("client %s send buffer full, dropping reply", c.id)
	}
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	h.batchEnabled = enabled
}

func (h *Hub) FlushPendingEvents() {
	if h.rateLimiter != nil {
		h.rateLimiter.FlushAll()
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		log.Printf("unregister channel full for client %s, forcing close", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
