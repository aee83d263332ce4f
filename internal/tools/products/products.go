// Package products implements the built-in structured-product search tool.
//
// The product catalogue is a static JSON database embedded at build time. In
// production deployments the catalogue would come from the bank's product
// master; the embedded file keeps the tool self-contained and deterministic.
package products

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/souffleur-ai/souffleur/internal/tools"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

//go:embed db.json
var rawDB []byte

// maxResults caps the number of products returned to keep the model's
// context window small.
const maxResults = 10

// Product is one entry in the structured-product catalogue.
type Product struct {
	ISIN        string   `json:"isin"`
	Name        string   `json:"name"`
	ProductType string   `json:"product_type"`
	Underlying  string   `json:"underlying"`
	Currency    string   `json:"currency"`
	RiskProfile string   `json:"risk_profile"`
	CouponPA    *float64 `json:"coupon_pa"`
	BarrierPct  *float64 `json:"barrier_pct"`
	Maturity    string   `json:"maturity"`
}

// query holds the filter arguments the model may pass to the tool.
type query struct {
	RiskProfile string   `json:"risk_profile"`
	Currency    string   `json:"currency"`
	MinCouponPA *float64 `json:"min_coupon_pa"`
}

// Catalogue provides filtered access to the product database.
type Catalogue struct {
	products []Product
}

// New loads the embedded product database.
func New() (*Catalogue, error) {
	var products []Product
	if err := json.Unmarshal(rawDB, &products); err != nil {
		return nil, fmt.Errorf("products: parse embedded database: %w", err)
	}
	return &Catalogue{products: products}, nil
}

// Search returns up to maxResults products matching the given filters. Empty
// filter values match everything; string comparisons are case-insensitive.
func (c *Catalogue) Search(riskProfile, currency string, minCouponPA *float64) []Product {
	results := make([]Product, 0, maxResults)
	for _, p := range c.products {
		if riskProfile != "" && !strings.EqualFold(p.RiskProfile, riskProfile) {
			continue
		}
		if currency != "" && !strings.EqualFold(p.Currency, currency) {
			continue
		}
		if minCouponPA != nil && (p.CouponPA == nil || *p.CouponPA < *minCouponPA) {
			continue
		}
		results = append(results, p)
		if len(results) == maxResults {
			break
		}
	}
	return results
}

// Builtin returns the tool registration for the catalogue, ready to hand to
// a tool host.
func (c *Catalogue) Builtin() tools.Builtin {
	return tools.Builtin{
		Definition: llm.ToolDefinition{
			Name: "search_structured_products",
			Description: "Searches the bank's database for structured products based on specified criteria. " +
				"Returns a JSON array of matching products.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"risk_profile": map[string]any{
						"type":        "string",
						"description": "The client's risk profile. Valid values are 'Konservativ', 'Ausgewogen', 'Wachstum'.",
						"enum":        []string{"Konservativ", "Ausgewogen", "Wachstum"},
					},
					"currency": map[string]any{
						"type":        "string",
						"description": "The desired currency of the product. Valid values are 'CHF', 'EUR', 'USD'.",
						"enum":        []string{"CHF", "EUR", "USD"},
					},
					"min_coupon_pa": map[string]any{
						"type":        "number",
						"description": "The minimum annual coupon percentage (e.g., 5.5 for 5.5%).",
					},
				},
			},
		},
		Handler: c.handle,
	}
}

// handle parses the model's arguments, runs the search, and serialises the
// results.
func (c *Catalogue) handle(ctx context.Context, args string) (string, error) {
	var q query
	if args != "" {
		if err := json.Unmarshal([]byte(args), &q); err != nil {
			return "", fmt.Errorf("products: invalid arguments: %w", err)
		}
	}

	results := c.Search(q.RiskProfile, q.Currency, q.MinCouponPA)

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("products: marshal results: %w", err)
	}
	return string(out), nil
}
