package recommend

import (
	"context"
	"errors"

	"github.com/storefront-ai/recommender/internal/intent"
	"github.com/storefront-ai/recommender/pkg/models"
)

// Caller-facing messages for failures whose detail must stay server-side.
const (
	msgUpstreamUnavailable = "The recommendation service is temporarily unavailable. Please try again shortly."
	msgInternal            = "Something went wrong while finding recommendations."
)

// ValidationError is a user-correctable problem with the request. Its
// message is returned to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrCatalogUnavailable means the catalog could not be read within the
// retry budget.
var ErrCatalogUnavailable = errors.New("recommend: catalog unavailable")

// ErrDisabled means the service runs without upstream credentials.
var ErrDisabled = errors.New("recommend: no upstream credentials configured")

// classify maps an error from the pipeline to the caller-facing code and
// message.
func classify(err error) (models.ErrorCode, string) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return models.ErrInvalidInput, ve.Message
	case errors.Is(err, intent.ErrUpstreamUnavailable),
		errors.Is(err, ErrCatalogUnavailable),
		errors.Is(err, ErrDisabled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return models.ErrUpstreamUnavailable, msgUpstreamUnavailable
	default:
		return models.ErrInternal, msgInternal
	}
}

func failure(code models.ErrorCode, message string) *models.RecommendationResult {
	return &models.RecommendationResult{
		Success:         false,
		Recommendations: []models.Product{},
		Summary:         "",
		Error:           message,
		Code:            code,
	}
}
