// Package reasoning provides chat clients for hosted language models.
//
// Every failure returned by Chat is a *ServiceError so callers can tell a
// service problem apart from their own bugs.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o",
}

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Response is a completed chat call.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client sends a conversation and returns the model's reply.
type Client interface {
	Chat(ctx context.Context, messages []Message) (*Response, error)
	Provider() string
}

// ServiceError reports a failed call. StatusCode is zero for transport
// failures.
type ServiceError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("reasoning: ")
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt later.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsServiceError reports whether err is or wraps a *ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Config selects and configures a provider.
type Config struct {
	Provider     string
	APIKey       string
	Model        string
	Endpoint     string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	SystemPrompt string

	// Attempts bounds tries per call for 429, 5xx and transport failures.
	Attempts   int
	RetryDelay time.Duration

	HTTPClient *http.Client
}

// New returns a Client for cfg.Provider.
func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderAnthropic, "claude":
		provider = ProviderAnthropic
	case ProviderOpenAI, "gpt":
		provider = ProviderOpenAI
	case "":
		return nil, errors.New("reasoning: provider is required")
	default:
		return nil, fmt.Errorf("reasoning: provider %q not supported", cfg.Provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("reasoning: %s API key not configured", provider)
	}

	cfg = withDefaults(provider, cfg)
	if provider == ProviderAnthropic {
		return newAnthropic(cfg), nil
	}
	return newOpenAI(cfg), nil
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(strings.TrimSpace(provider))]
}

func withDefaults(provider string, cfg Config) Config {
	cfg.Provider = provider
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModels[provider]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return cfg
}

// splitSystem separates system turns from the conversation, prefixed by the
// configured prompt.
func splitSystem(prompt string, messages []Message) (string, []Message) {
	var system []string
	if p := strings.TrimSpace(prompt); p != "" {
		system = append(system, p)
	}
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if c := strings.TrimSpace(m.Content); c != "" {
				system = append(system, c)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
