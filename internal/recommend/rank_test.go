package recommend_test

import (
	"testing"

	"github.com/storefront-ai/recommender/internal/recommend"
	"github.com/storefront-ai/recommender/pkg/models"
)

var defaultWeights = recommend.Weights{Keyword: 0.6, Price: 0.3, Featured: 0.1}

func TestRank_KeywordOverlapDominates(t *testing.T) {
	products := []models.Product{
		{ID: "a", Name: "Plain Earbuds"},
		{ID: "b", Name: "Earbuds", Description: "Wireless with noise cancelling"},
		{ID: "c", Name: "Wireless Earbuds"},
	}
	got := recommend.Rank(products, []string{"Wireless", "noise cancelling"}, models.Budget{}, defaultWeights)
	if ids := idsOf(got); ids[0] != "b" || ids[1] != "c" || ids[2] != "a" {
		t.Errorf("Rank() = %v, want [b c a]", ids)
	}
}

func TestRank_NoBudgetIgnoresPrice(t *testing.T) {
	products := []models.Product{
		{ID: "a", Price: 10, AverageRating: 3},
		{ID: "b", Price: 5000, AverageRating: 4},
	}
	got := recommend.Rank(products, nil, models.Budget{}, defaultWeights)
	if ids := idsOf(got); ids[0] != "b" {
		t.Errorf("Rank() = %v, want rating to break the tie", ids)
	}
}

func TestRank_PriceProximityToBandMidpoint(t *testing.T) {
	lo, hi := 1000.0, 3000.0
	products := []models.Product{
		{ID: "far", Price: 1000},
		{ID: "mid", Price: 2000},
		{ID: "near", Price: 2500},
		{ID: "out", Price: 9000},
	}
	got := recommend.Rank(products, nil, models.Budget{Min: &lo, Max: &hi}, defaultWeights)
	want := []string{"mid", "near", "far", "out"}
	for i, id := range idsOf(got) {
		if id != want[i] {
			t.Fatalf("Rank() = %v, want %v", idsOf(got), want)
		}
	}
}

func TestRank_FeaturedBoostBreaksEqualScores(t *testing.T) {
	products := []models.Product{
		{ID: "a", Name: "Lamp", AverageRating: 5},
		{ID: "b", Name: "Lamp", Featured: true},
	}
	got := recommend.Rank(products, []string{"lamp"}, models.Budget{}, defaultWeights)
	if idsOf(got)[0] != "b" {
		t.Errorf("Rank() = %v, want featured first", idsOf(got))
	}
}

func TestRank_StableOnFullTie(t *testing.T) {
	products := []models.Product{
		{ID: "1", AverageRating: 4}, {ID: "2", AverageRating: 4}, {ID: "3", AverageRating: 4},
	}
	for i := 0; i < 10; i++ {
		got := idsOf(recommend.Rank(products, nil, models.Budget{}, defaultWeights))
		if got[0] != "1" || got[1] != "2" || got[2] != "3" {
			t.Fatalf("Rank() = %v, want catalog order", got)
		}
	}
}

func TestRank_UnknownBudgetTreatedAsUnconstrained(t *testing.T) {
	products := []models.Product{{ID: "a", Price: 100}, {ID: "b", Price: 1e9}}
	got := recommend.Rank(products, nil, models.Budget{Max: nil}, defaultWeights)
	if len(got) != 2 || idsOf(got)[0] != "a" {
		t.Errorf("Rank() = %v, want both in catalog order", idsOf(got))
	}
}
