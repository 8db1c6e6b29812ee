// Package llm calls the upstream language model used for intent extraction.
//
// Drivers take the credential secret per call so that the key pool, not the
// driver, decides which credential is used and how failures are handled.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/internal/keypool"
	"github.com/storefront-ai/recommender/pkg/models"
)

// CompletionRequest is a single chat completion.
type CompletionRequest struct {
	System   string
	Messages []models.ChatMessage
	// JSON asks the driver to constrain output to a JSON object when the
	// upstream supports it.
	JSON bool
}

// Completer sends a completion request using the given credential secret and
// returns the raw text produced by the model.
type Completer interface {
	Complete(ctx context.Context, secret string, req CompletionRequest) (string, error)
}

// StatusError is returned when the upstream answers with a non-2xx status.
// The response body is deliberately not kept.
type StatusError struct {
	Driver     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Driver, e.StatusCode)
}

// Classify maps an upstream error onto the key pool's failure kinds.
func Classify(err error) keypool.FailureKind {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests:
			return keypool.RateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return keypool.AuthError
		}
	}
	// Timeouts, transport errors and 5xx are transient.
	return keypool.Unknown
}

// NewCompleter builds the driver selected by cfg.Provider.
func NewCompleter(cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case "", "openai", "openai-compatible", "gemini":
		return NewOpenAI(cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		return NewAnthropic(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
