package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/pkg/models"
)

const clarifySummary = "I couldn't find a good match for that. Could you tell me a bit more, " +
	"like the kind of product, the features you need or your budget?"

// handleMissingProduct logs a product request when the intent names a
// concrete product, and otherwise asks the shopper to clarify. A failed write
// is logged and does not change the result. It runs at most once per
// Recommend call, so each call writes at most one request.
func (e *Engine) handleMissingProduct(ctx context.Context, r *request, it *models.Intent) *models.RecommendationResult {
	res := &models.RecommendationResult{
		Success:         true,
		Recommendations: []models.Product{},
	}

	prd := it.ProductRequestData
	if prd == nil {
		res.Summary = clarifySummary
		return res
	}

	res.Summary = fmt.Sprintf("We don't carry %s yet. We've logged a request so our team can look into stocking it.", prd.Name)

	category := prd.Category
	if category == "" {
		category = it.Category
	}
	specs := append([]string{}, prd.Specifications...)

	pr := &models.ProductRequest{
		ProductName:    prd.Name,
		Description:    describe(r.query, prd),
		Category:       category,
		MaxBudget:      prd.MaxBudget,
		Specifications: specs,
		Status:         models.ProductRequestPending,
		UserContact:    r.ctx.UserContact,
		SourceQuery:    r.query,
	}
	if err := e.requests.CreateProductRequest(ctx, pr); err != nil {
		log.Warn().
			Err(err).
			Str("code", string(models.ErrPersistenceFailure)).
			Str("product", prd.Name).
			Msg("Product request not saved")
		return res
	}

	res.ProductRequestID = pr.ID
	log.Info().
		Str("id", pr.ID).
		Str("product", pr.ProductName).
		Str("category", pr.Category).
		Msg("Product request logged")
	return res
}

// describe writes the request description from the original query.
func describe(query string, prd *models.ProductRequestData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shopper asked: %q.", query)
	if len(prd.Specifications) > 0 {
		fmt.Fprintf(&b, " Wanted: %s.", strings.Join(prd.Specifications, ", "))
	}
	if prd.MaxBudget != nil {
		fmt.Fprintf(&b, " Budget up to %.2f.", *prd.MaxBudget)
	}
	return b.String()
}
