package reasoning

import (
	"context"
	"strings"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

type openAIClient struct {
	cfg Config
}

func newOpenAI(cfg Config) *openAIClient {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = openAIEndpoint
	}
	return &openAIClient{cfg: cfg}
}

func (c *openAIClient) Provider() string { return ProviderOpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system, turns := splitSystem(c.cfg.SystemPrompt, messages)

	req := openAIRequest{
		Model:               c.cfg.Model,
		MaxCompletionTokens: c.cfg.MaxTokens,
		Temperature:         c.cfg.Temperature,
	}
	if system != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range turns {
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		req.Messages = append(req.Messages, openAIMessage{Role: role, Content: m.Content})
	}

	body, err := postJSON(ctx, c.cfg, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}, req)
	if err != nil {
		return nil, err
	}

	var resp openAIResponse
	if err := decodeResponse(ProviderOpenAI, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, emptyResponse(ProviderOpenAI)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, emptyResponse(ProviderOpenAI)
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Content:          content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
