// Package resolve builds a Provider from provider-agnostic configuration,
// routing to the wire adapter by format and base URL shape.
package resolve

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openvia "github.com/openvia/openvia"
	"github.com/openvia/openvia/provider/gemini"
	"github.com/openvia/openvia/provider/openaicompat"
	"github.com/openvia/openvia/provider/responses"
)

// Config holds provider-agnostic configuration for creating a Provider.
type Config struct {
	// Format selects the wire protocol family: "gemini", "responses", or
	// any chat-completions-compatible vendor ("openai", "claude", "qwen",
	// "deepseek", "groq", "mistral", "moonshot", "ollama").
	Format  string
	APIKey  string
	Model   string
	BaseURL string // auto-filled for known formats when empty

	// Common cross-adapter options (nil = adapter default).
	Temperature *float64
	TopP        *float64
	Thinking    *bool
	MaxTokens   int

	// Timeout bounds each HTTP request to the provider; zero keeps the
	// adapter default.
	Timeout time.Duration

	Logger *slog.Logger
}

// httpClient builds the request client for cfg, or nil for the adapter
// default.
func httpClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: cfg.Timeout}
}

// Provider creates a Provider from cfg.
//
// A base URL ending in "/responses" selects the Responses adapter even for
// the openai format, and one ending in "/chat/completions" is used verbatim
// by the chat-completions adapter; otherwise the format decides and the
// adapter appends its own path.
func Provider(cfg Config) (openvia.Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("resolve: model is required")
	}

	switch {
	case cfg.Format == "gemini":
		return geminiProvider(cfg), nil
	case cfg.Format == "responses" || strings.HasSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/responses"):
		return responsesProvider(cfg), nil
	case isChatCompletions(cfg.Format):
		return chatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown format %q", cfg.Format)
	}
}

func isChatCompletions(format string) bool {
	switch format {
	case "openai", "claude", "qwen", "deepseek", "groq", "mistral", "moonshot", "ollama":
		return true
	}
	return false
}

func geminiProvider(cfg Config) openvia.Provider {
	var opts []gemini.Option
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.Thinking != nil && *cfg.Thinking {
		opts = append(opts, gemini.WithThinking())
	}
	if cfg.Logger != nil {
		opts = append(opts, gemini.WithLogger(cfg.Logger))
	}
	if c := httpClient(cfg); c != nil {
		opts = append(opts, gemini.WithHTTPClient(c))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func responsesProvider(cfg Config) openvia.Provider {
	url := cfg.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1/responses"
	}
	var opts []responses.Option
	if cfg.Temperature != nil {
		opts = append(opts, responses.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, responses.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Logger != nil {
		opts = append(opts, responses.WithLogger(cfg.Logger))
	}
	if c := httpClient(cfg); c != nil {
		opts = append(opts, responses.WithHTTPClient(c))
	}
	return responses.New(cfg.APIKey, url, cfg.Model, opts...)
}

func chatProvider(cfg Config) openvia.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Format)
	}
	var opts []openaicompat.Option
	if cfg.Temperature != nil {
		opts = append(opts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Logger != nil {
		opts = append(opts, openaicompat.WithLogger(cfg.Logger))
	}
	if c := httpClient(cfg); c != nil {
		opts = append(opts, openaicompat.WithHTTPClient(c))
	}
	return openaicompat.New(cfg.APIKey, baseURL, cfg.Model, opts...)
}

func defaultBaseURL(format string) string {
	switch format {
	case "openai":
		return "https://api.openai.com/v1"
	case "claude":
		return "https://api.anthropic.com/v1"
	case "qwen":
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "moonshot":
		return "https://api.moonshot.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
