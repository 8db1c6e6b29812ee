package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint through the
// official SDK. The SDK's own retries are disabled; the key pool decides
// whether and with which credential to retry.
type OpenAI struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI-compatible driver. An empty baseURL uses the
// SDK default (api.openai.com).
func NewOpenAI(baseURL, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{baseURL: baseURL, model: model}
}

// WithHTTPClient overrides the HTTP client (used by tests).
func (o *OpenAI) WithHTTPClient(c *http.Client) *OpenAI {
	o.httpClient = c
	return o
}

func (o *OpenAI) Complete(ctx context.Context, secret string, req CompletionRequest) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(secret),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	client := openai.NewClient(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(0.1),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Driver: "openai", StatusCode: apiErr.StatusCode}
		}
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
