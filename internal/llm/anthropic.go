package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storefront-ai/recommender/pkg/models"
)

// Anthropic calls the Messages API directly over HTTP.
type Anthropic struct {
	endpoint  string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropic creates an Anthropic driver. An empty endpoint uses the public API.
func NewAnthropic(endpoint, model string) *Anthropic {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	return &Anthropic{
		endpoint:  endpoint,
		model:     model,
		maxTokens: 1024,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Anthropic) Complete(ctx context.Context, secret string, req CompletionRequest) (string, error) {
	messages := make([]models.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, models.ChatMessage{Role: role, Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		System:    req.System,
		Messages:  messages,
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", secret)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return "", &StatusError{Driver: "anthropic", StatusCode: httpResp.StatusCode}
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}

	content := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	return content, nil
}
