package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultOpenAIURL      = "https://api.openai.com/v1/chat/completions"
	defaultMaxTokens      = 1024
)

// ErrCollaborator wraps inference backend failures. They are transient from
// the conversation's point of view and worth a bounded retry.
var ErrCollaborator = errors.New("inference backend failure")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history sent to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client is the inference collaborator: the only non-deterministic call in
// the system. Its output is untrusted and must be validated by the caller.
type Client interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Options configures an HTTP-backed client.
type Options struct {
	Provider   string // "anthropic" (default) or "openai"
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// HTTPClient talks to the Anthropic or OpenAI messages API.
type HTTPClient struct {
	provider   string
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

func New(opts Options) (*HTTPClient, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "anthropic"
	}
	if provider != "anthropic" && provider != "openai" {
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("llm credentials are not configured for provider %s", provider)
	}

	model := strings.TrimSpace(opts.Model)
	baseURL := strings.TrimSpace(opts.BaseURL)
	if provider == "openai" {
		if model == "" {
			model = defaultOpenAIModel
		}
		if baseURL == "" {
			baseURL = defaultOpenAIURL
		}
	} else {
		if model == "" {
			model = defaultAnthropicModel
		}
		if baseURL == "" {
			baseURL = defaultAnthropicURL
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &HTTPClient{
		provider:   provider,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}, nil
}

func (c *HTTPClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	if c.provider == "openai" {
		return c.completeOpenAI(ctx, system, messages)
	}
	return c.completeAnthropic(ctx, system, messages)
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

func (c *HTTPClient) completeAnthropic(ctx context.Context, system string, messages []Message) (string, error) {
	req := anthropicRequest{
		Model:     c.model,
		System:    system,
		MaxTokens: c.maxTokens,
		Messages:  make([]anthropicMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		req.Messages = append(req.Messages, anthropicMessage{
			Role:    role,
			Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
		})
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("%w: anthropic api status=%d body=%s", ErrCollaborator, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out anthropicResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	parts := make([]string, 0, len(out.Content))
	for _, block := range out.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) completeOpenAI(ctx context.Context, system string, messages []Message) (string, error) {
	req := openAIRequest{
		Model:    c.model,
		Messages: make([]openAIMessage, 0, len(messages)+1),
	}
	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		req.Messages = append(req.Messages, openAIMessage{Role: role, Content: msg.Content})
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("%w: openai api status=%d body=%s", ErrCollaborator, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out openAIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
