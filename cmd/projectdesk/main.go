package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/user/projectdesk/configs"
	"github.com/user/projectdesk/internal/api"
	"github.com/user/projectdesk/internal/config"
	"github.com/user/projectdesk/internal/embedding"
	"github.com/user/projectdesk/internal/gitops"
	"github.com/user/projectdesk/internal/hub"
	"github.com/user/projectdesk/internal/llm"
	"github.com/user/projectdesk/internal/orchestrator"
	"github.com/user/projectdesk/internal/server"
	"github.com/user/projectdesk/internal/store"
	"github.com/user/projectdesk/internal/template"
	"github.com/user/projectdesk/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	tpl, err := loadTemplate(cfg)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	engine, err := buildEmbeddingEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build embedding engine: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabasePath(), tpl, engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	httpClient, err := llm.New(llm.Options{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
	})
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}
	client := llm.NewRetrying(httpClient, 3)

	var git *gitops.Ops
	if cfg.ProjectsDir != "" {
		git, err = gitops.New(cfg.ProjectsDir)
		if err != nil {
			return fmt.Errorf("set up git workspace: %w", err)
		}
	}

	registry := orchestrator.NewRegistry()
	for _, w := range []orchestrator.Worker{
		worker.NewChat(client),
		worker.NewProjectInfo(client),
		worker.NewContext(client, st, git),
	} {
		if err := registry.Register(w); err != nil {
			return fmt.Errorf("register worker: %w", err)
		}
	}

	supervisor, err := orchestrator.NewSupervisor(client, registry, worker.ChatName)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}
	loop, err := orchestrator.NewLoop(supervisor, registry, cfg.MaxHops)
	if err != nil {
		return fmt.Errorf("build orchestration loop: %w", err)
	}

	sessions := newSessionTable()
	var h *hub.Hub
	h = hub.New(cfg.Token, func(ctx context.Context, conversationID, text string) (hub.ReplyMessage, error) {
		state := sessions.get(conversationID)
		reply, err := loop.Process(ctx, state, text)
		if err != nil {
			return hub.ReplyMessage{}, err
		}
		if records, recErr := st.Records(ctx); recErr == nil {
			h.BroadcastProjects(toProjectInfos(records))
		}
		return hub.ReplyMessage{
			Text:         reply,
			Author:       state.LastMessage().Author,
			Project:      state.ActiveProject,
			AwaitingUser: state.PendingQuestion,
		}, nil
	})
	go h.Run(ctx)

	if records, err := st.Records(ctx); err == nil {
		h.BroadcastProjects(toProjectInfos(records))
	}

	apiHandler := api.NewRouter(st, h, cfg.Token)
	srv := server.New(cfg, h, apiHandler)

	fmt.Printf("\nprojectdesk running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	return srv.Start(ctx)
}

func loadTemplate(cfg *config.Config) (*template.Template, error) {
	if cfg.TemplatePath != "" {
		return template.Load(cfg.TemplatePath)
	}
	data, err := configs.TemplateDefault.ReadFile("template.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded template: %w", err)
	}
	return template.Parse(data)
}

func buildEmbeddingEngine(ctx context.Context, cfg *config.Config) (embedding.Engine, error) {
	switch cfg.EmbeddingProvider {
	case "genai":
		return embedding.NewGenAIEngine(ctx, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	default:
		return embedding.NewLocalEngine(), nil
	}
}

// sessionTable keeps one conversation state per websocket connection. States
// are not persisted; a reconnect starts a fresh conversation.
type sessionTable struct {
	mu     sync.Mutex
	states map[string]*orchestrator.State
}

func newSessionTable() *sessionTable {
	return &sessionTable{states: make(map[string]*orchestrator.State)}
}

func (t *sessionTable) get(conversationID string) *orchestrator.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[conversationID]
	if !ok {
		state = orchestrator.NewState()
		state.ConversationID = conversationID
		t.states[conversationID] = state
	}
	return state
}

func toProjectInfos(records []store.Record) []hub.ProjectInfo {
	infos := make([]hub.ProjectInfo, len(records))
	for i, record := range records {
		infos[i] = hub.ProjectInfo{Name: record.Name, Description: record.Description}
	}
	return infos
}
