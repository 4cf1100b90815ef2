package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Port       int
	Token      string
	ConfigPath string
	PrintToken bool

	// Storage.
	DataDir      string
	TemplatePath string
	ProjectsDir  string

	// Language model backend.
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string

	// Embedding backend for fuzzy project lookup.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string

	MaxHops int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              8765,
		LLMProvider:       "anthropic",
		EmbeddingProvider: "local",
		MaxHops:           20,
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg.ConfigPath = filepath.Join(homeDir, ".config", "projectdesk", "config")
	cfg.DataDir = filepath.Join(homeDir, ".local", "share", "projectdesk")

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the project database")
	flag.StringVar(&cfg.TemplatePath, "template", cfg.TemplatePath, "project template YAML (embedded default if empty)")
	flag.StringVar(&cfg.ProjectsDir, "projects-dir", cfg.ProjectsDir, "directory for cloned repositories (git disabled if empty)")
	flag.StringVar(&cfg.LLMProvider, "llm-provider", cfg.LLMProvider, "language model provider (anthropic or openai)")
	flag.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "language model name (provider default if empty)")
	flag.IntVar(&cfg.MaxHops, "max-hops", cfg.MaxHops, "maximum worker invocations per user turn")
	flag.Parse()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.MaxHops < 1 {
		return nil, fmt.Errorf("invalid max hops %d: must be at least 1", cfg.MaxHops)
	}
	switch cfg.LLMProvider {
	case "anthropic", "openai":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
	switch cfg.EmbeddingProvider {
	case "local", "genai":
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	// Environment overrides keep keys out of the config file.
	if key := os.Getenv("PROJECTDESK_LLM_API_KEY"); key != "" {
		cfg.LLMAPIKey = key
	}
	if key := os.Getenv("PROJECTDESK_EMBEDDING_API_KEY"); key != "" {
		cfg.EmbeddingAPIKey = key
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "projects.db")
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "Port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "DataDir":
			c.DataDir = value
		case "TemplatePath":
			c.TemplatePath = value
		case "ProjectsDir":
			c.ProjectsDir = value
		case "LLMProvider":
			c.LLMProvider = value
		case "LLMModel":
			c.LLMModel = value
		case "LLMAPIKey":
			c.LLMAPIKey = value
		case "LLMBaseURL":
			c.LLMBaseURL = value
		case "EmbeddingProvider":
			c.EmbeddingProvider = value
		case "EmbeddingModel":
			c.EmbeddingModel = value
		case "EmbeddingAPIKey":
			c.EmbeddingAPIKey = value
		case "MaxHops":
			hops, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid MaxHops value %q: %w", value, err)
			}
			c.MaxHops = hops
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Port=%d\n", c.Port)
	fmt.Fprintf(&b, "Token=%s\n", c.Token)
	fmt.Fprintf(&b, "DataDir=%s\n", c.DataDir)
	if c.TemplatePath != "" {
		fmt.Fprintf(&b, "TemplatePath=%s\n", c.TemplatePath)
	}
	if c.ProjectsDir != "" {
		fmt.Fprintf(&b, "ProjectsDir=%s\n", c.ProjectsDir)
	}
	fmt.Fprintf(&b, "LLMProvider=%s\n", c.LLMProvider)
	if c.LLMModel != "" {
		fmt.Fprintf(&b, "LLMModel=%s\n", c.LLMModel)
	}
	fmt.Fprintf(&b, "EmbeddingProvider=%s\n", c.EmbeddingProvider)
	return os.WriteFile(c.ConfigPath, []byte(b.String()), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
