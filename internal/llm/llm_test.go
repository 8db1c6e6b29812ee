package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/internal/keypool"
	"github.com/storefront-ai/recommender/internal/llm"
	"github.com/storefront-ai/recommender/pkg/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want keypool.FailureKind
	}{
		{&llm.StatusError{Driver: "openai", StatusCode: 429}, keypool.RateLimited},
		{&llm.StatusError{Driver: "openai", StatusCode: 401}, keypool.AuthError},
		{&llm.StatusError{Driver: "anthropic", StatusCode: 403}, keypool.AuthError},
		{&llm.StatusError{Driver: "openai", StatusCode: 503}, keypool.Unknown},
		{fmt.Errorf("wrapped: %w", &llm.StatusError{StatusCode: 429}), keypool.RateLimited},
		{context.DeadlineExceeded, keypool.Unknown},
		{errors.New("connection reset"), keypool.Unknown},
	}
	for _, tc := range cases {
		if got := llm.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewCompleter(t *testing.T) {
	for _, p := range []string{"", "openai", "gemini", "anthropic"} {
		if _, err := llm.NewCompleter(config.LLMConfig{Provider: p}); err != nil {
			t.Errorf("NewCompleter(%q) error = %v", p, err)
		}
	}
	if _, err := llm.NewCompleter(config.LLMConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Error("NewCompleter(unknown) should fail")
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"category\":\"audio\"}"}}]}`)
	}))
	defer srv.Close()

	c := llm.NewOpenAI(srv.URL+"/v1", "gpt-4o-mini")
	out, err := c.Complete(context.Background(), "sk-test-1", llm.CompletionRequest{
		System:   "be terse",
		Messages: []models.ChatMessage{{Role: "user", Content: "earbuds"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"category":"audio"}` {
		t.Errorf("Complete() = %q", out)
	}
	if gotAuth != "Bearer sk-test-1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-test-1")
	}
	if msgs, _ := gotBody["messages"].([]any); len(msgs) != 2 {
		t.Errorf("sent %d messages, want 2 (system + user)", len(msgs))
	}
}

func TestOpenAI_RateLimitedIsClassified(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded for key sk-secret","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	c := llm.NewOpenAI(srv.URL+"/v1", "")
	_, err := c.Complete(context.Background(), "sk-secret", llm.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete() error = nil, want rate limit error")
	}
	if got := llm.Classify(err); got != keypool.RateLimited {
		t.Errorf("Classify() = %v, want RateLimited", got)
	}
	if strings.Contains(err.Error(), "sk-secret") {
		t.Errorf("error leaks upstream body: %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (SDK retries disabled)", calls)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ant-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			System   string               `json:"system"`
			Messages []models.ChatMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.System == "" || len(req.Messages) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"confidence\":"},{"type":"text","text":"0.8}"}]}`)
	}))
	defer srv.Close()

	c := llm.NewAnthropic(srv.URL, "")
	req := llm.CompletionRequest{System: "sys", Messages: []models.ChatMessage{{Role: "user", Content: "q"}}}

	out, err := c.Complete(context.Background(), "ant-key", req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"confidence":0.8}` {
		t.Errorf("Complete() = %q", out)
	}

	_, err = c.Complete(context.Background(), "wrong", req)
	if got := llm.Classify(err); got != keypool.AuthError {
		t.Errorf("Classify(bad key) = %v, want AuthError (err = %v)", got, err)
	}
}
