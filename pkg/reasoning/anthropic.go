package reasoning

import (
	"context"
	"strings"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
)

type anthropicClient struct {
	cfg Config
}

func newAnthropic(cfg Config) *anthropicClient {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = anthropicEndpoint
	}
	return &anthropicClient{cfg: cfg}
}

func (c *anthropicClient) Provider() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system, turns := splitSystem(c.cfg.SystemPrompt, messages)

	req := anthropicRequest{
		Model:       c.cfg.Model,
		System:      system,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	// The Messages API wants alternating roles; consecutive turns of one
	// role are merged.
	for _, m := range turns {
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: role, Content: m.Content})
	}

	body, err := postJSON(ctx, c.cfg, map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}, req)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := decodeResponse(ProviderAnthropic, body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		if block.Text == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(block.Text)
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, emptyResponse(ProviderAnthropic)
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Content:          content,
		Model:            model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}
