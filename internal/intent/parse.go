// Package intent turns a shopper's free-text query into a structured Intent
// using the upstream language model.
package intent

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/storefront-ai/recommender/pkg/models"
)

// ParseError means the model answered but the answer was not a usable intent.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "intent: " + e.Reason + ": " + e.Err.Error()
	}
	return "intent: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawIntent mirrors models.Intent with every number left untyped so that
// descriptive strings from the model do not fail the whole decode.
type rawIntent struct {
	Category           any            `json:"category"`
	Subcategory        any            `json:"subcategory"`
	Requirements       any            `json:"requirements"`
	Budget             map[string]any `json:"budget"`
	Preferences        any            `json:"preferences"`
	UseCase            any            `json:"useCase"`
	Confidence         any            `json:"confidence"`
	ProductRequestData map[string]any `json:"productRequestData"`
}

// Parse extracts an Intent from raw model output. It tolerates code fences
// and prose around the JSON object, and sanitizes the result.
func Parse(raw string) (*models.Intent, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return nil, &ParseError{Reason: "no JSON object in model output"}
	}

	var r rawIntent
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Err: err}
	}

	in := &models.Intent{
		Category:     str(r.Category),
		Subcategory:  str(r.Subcategory),
		Requirements: strList(r.Requirements),
		Preferences:  strList(r.Preferences),
		UseCase:      str(r.UseCase),
		Confidence:   number(r.Confidence),
		Budget: models.Budget{
			Min: number(r.Budget["min"]),
			Max: number(r.Budget["max"]),
		},
	}
	if r.ProductRequestData != nil {
		in.ProductRequestData = &models.ProductRequestData{
			Name:           str(r.ProductRequestData["name"]),
			Category:       str(r.ProductRequestData["category"]),
			MaxBudget:      number(r.ProductRequestData["maxBudget"]),
			Specifications: strList(r.ProductRequestData["specifications"]),
		}
	}

	Sanitize(in)
	return in, nil
}

// Sanitize normalizes an intent in place: negative or non-finite budgets
// become absent, confidence is clamped to [0,1], a swapped budget band is
// reordered, and product request data without a name is dropped.
func Sanitize(in *models.Intent) {
	in.Budget.Min = finite(in.Budget.Min)
	in.Budget.Max = finite(in.Budget.Max)
	if in.Budget.Min != nil && in.Budget.Max != nil && *in.Budget.Min > *in.Budget.Max {
		in.Budget.Min, in.Budget.Max = in.Budget.Max, in.Budget.Min
	}

	if in.Confidence != nil {
		c := *in.Confidence
		switch {
		case math.IsNaN(c):
			in.Confidence = nil
		case c < 0:
			c = 0
			in.Confidence = &c
		case c > 1:
			c = 1
			in.Confidence = &c
		}
	}

	if in.Requirements == nil {
		in.Requirements = []string{}
	}
	if in.Preferences == nil {
		in.Preferences = []string{}
	}

	if prd := in.ProductRequestData; prd != nil {
		prd.Name = strings.TrimSpace(prd.Name)
		if prd.Name == "" {
			in.ProductRequestData = nil
			return
		}
		prd.MaxBudget = finite(prd.MaxBudget)
		if prd.Specifications == nil {
			prd.Specifications = []string{}
		}
	}
}

// extractObject returns the outermost {...} span of s.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func str(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "unknown", "n/a":
		return ""
	}
	return s
}

func strList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s := str(v); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := str(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// number accepts JSON numbers and numeric strings ("2,000", "1500.50").
// Anything else, such as "unknown" or "flexible", is treated as absent.
func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) || *p < 0 {
		return nil
	}
	return p
}
