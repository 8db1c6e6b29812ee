package recommend

import (
	"math"
	"sort"
	"strings"

	"github.com/storefront-ai/recommender/internal/store"
	"github.com/storefront-ai/recommender/pkg/models"
)

// Weights are the ranking coefficients.
type Weights struct {
	Keyword  float64
	Price    float64
	Featured float64
}

type scored struct {
	product models.Product
	score   float64
}

// Rank orders candidates best-first. Ties on score are broken by descending
// average rating, then by the candidates' original (catalog) order.
func Rank(candidates []models.Product, keywords []string, budget models.Budget, w Weights) []models.Product {
	kws := normalizeKeywords(keywords)

	items := make([]scored, len(candidates))
	for i, p := range candidates {
		items[i] = scored{
			product: p,
			score: w.Keyword*keywordOverlap(&p, kws) +
				w.Price*priceProximity(p.Price, budget) +
				w.Featured*featured(p),
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].product.AverageRating > items[j].product.AverageRating
	})

	out := make([]models.Product, len(items))
	for i, it := range items {
		out[i] = it.product
	}
	return out
}

// keywordOverlap is the share of keywords found in the product's text.
func keywordOverlap(p *models.Product, kws []string) float64 {
	if len(kws) == 0 {
		return 0
	}
	text := store.SearchText(p)
	hits := 0
	for _, k := range kws {
		if strings.Contains(text, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(kws))
}

// priceProximity is 1 at the budget midpoint falling linearly to 0 at twice
// the midpoint or at zero. A max-only budget spans [0, max]; a min-only
// budget centres on min.
func priceProximity(price float64, b models.Budget) float64 {
	mid, ok := midpoint(b)
	if !ok || mid <= 0 {
		return 0
	}
	p := 1 - math.Abs(price-mid)/mid
	return math.Max(0, math.Min(1, p))
}

func midpoint(b models.Budget) (float64, bool) {
	switch {
	case b.Min != nil && b.Max != nil:
		return (*b.Min + *b.Max) / 2, true
	case b.Max != nil:
		return *b.Max / 2, true
	case b.Min != nil:
		return *b.Min, true
	}
	return 0, false
}

func featured(p models.Product) float64 {
	if p.Featured {
		return 1
	}
	return 0
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
