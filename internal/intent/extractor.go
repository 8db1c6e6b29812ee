package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/keypool"
	"github.com/storefront-ai/recommender/internal/llm"
	"github.com/storefront-ai/recommender/pkg/models"
)

// ErrUpstreamUnavailable means no intent could be obtained: every attempt
// failed or no credential was usable.
var ErrUpstreamUnavailable = errors.New("intent: upstream unavailable")

// maxAttempts is the first call plus one retry with the next credential.
const maxAttempts = 2

// CredentialSource is the subset of *keypool.Pool the extractor needs.
type CredentialSource interface {
	Next() (keypool.Credential, error)
	ReportSuccess(index int)
	ReportFailure(index int, kind keypool.FailureKind)
}

// Extractor obtains an Intent for a query through the credential pool.
type Extractor struct {
	pool    CredentialSource
	llm     llm.Completer
	timeout time.Duration
}

// NewExtractor creates an extractor. timeout bounds each upstream call.
func NewExtractor(pool CredentialSource, completer llm.Completer, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{pool: pool, llm: completer, timeout: timeout}
}

type callResult struct {
	raw string
	err error
}

// Extract calls the model, retrying once with the next credential when the
// call fails or its output cannot be parsed.
func (x *Extractor) Extract(ctx context.Context, query string, conversation []models.ChatMessage) (*models.Intent, error) {
	req := BuildRequest(query, conversation)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := x.pool.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}

		raw, err := x.call(ctx, cred, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().
				Int("attempt", attempt).
				Int("key_index", cred.Index).
				Str("kind", llm.Classify(err).String()).
				Err(err).
				Msg("Intent call failed")
			lastErr = err
			continue
		}

		in, err := Parse(raw)
		if err != nil {
			log.Warn().
				Int("attempt", attempt).
				Int("key_index", cred.Index).
				Err(err).
				Msg("Intent output unusable")
			lastErr = err
			continue
		}
		return in, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, lastErr)
}

// call runs the completion detached from the caller's cancellation so the
// outcome always reaches the pool. If ctx ends first the result is dropped.
func (x *Extractor) call(ctx context.Context, cred keypool.Credential, req llm.CompletionRequest) (string, error) {
	done := make(chan callResult, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
		defer cancel()

		raw, err := x.llm.Complete(callCtx, cred.Secret, req)
		if err != nil {
			x.pool.ReportFailure(cred.Index, llm.Classify(err))
		} else {
			x.pool.ReportSuccess(cred.Index)
		}
		done <- callResult{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		return r.raw, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
