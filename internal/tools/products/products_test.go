package products

import (
	"context"
	"encoding/json"
	"testing"
)

func newCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSearch_NoFilters(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)

	results := c.Search("", "", nil)
	if len(results) == 0 {
		t.Fatal("expected results without filters")
	}
	if len(results) > 10 {
		t.Errorf("expected at most 10 results, got %d", len(results))
	}
}

func TestSearch_RiskProfileCaseInsensitive(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)

	results := c.Search("konservativ", "", nil)
	if len(results) == 0 {
		t.Fatal("expected conservative products")
	}
	for _, p := range results {
		if p.RiskProfile != "Konservativ" {
			t.Errorf("unexpected risk profile %q for %s", p.RiskProfile, p.ISIN)
		}
	}
}

func TestSearch_Currency(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)

	results := c.Search("", "chf", nil)
	if len(results) == 0 {
		t.Fatal("expected CHF products")
	}
	for _, p := range results {
		if p.Currency != "CHF" {
			t.Errorf("unexpected currency %q for %s", p.Currency, p.ISIN)
		}
	}
}

func TestSearch_MinCoupon_ExcludesCouponless(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)

	min := 9.0
	results := c.Search("", "", &min)
	if len(results) == 0 {
		t.Fatal("expected high-coupon products")
	}
	for _, p := range results {
		if p.CouponPA == nil {
			t.Errorf("product %s without coupon must not match a coupon filter", p.ISIN)
			continue
		}
		if *p.CouponPA < min {
			t.Errorf("product %s coupon %.2f below minimum %.2f", p.ISIN, *p.CouponPA, min)
		}
	}
}

func TestSearch_CombinedFilters(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)

	min := 5.0
	results := c.Search("Ausgewogen", "CHF", &min)
	for _, p := range results {
		if p.RiskProfile != "Ausgewogen" || p.Currency != "CHF" {
			t.Errorf("product %s does not match combined filters: %+v", p.ISIN, p)
		}
	}
	if len(results) == 0 {
		t.Error("expected balanced CHF products with coupon >= 5")
	}
}

func TestHandler_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)
	b := c.Builtin()

	out, err := b.Handler(context.Background(), `{"currency":"USD","min_coupon_pa":10}`)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	var results []Product
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("handler output is not valid JSON: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected matching products")
	}
	for _, p := range results {
		if p.Currency != "USD" {
			t.Errorf("unexpected currency %q", p.Currency)
		}
	}
}

func TestHandler_EmptyArgs(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)
	b := c.Builtin()

	out, err := b.Handler(context.Background(), "{}")
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	var results []Product
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("handler output is not valid JSON: %v", err)
	}
	if len(results) == 0 {
		t.Error("expected unfiltered results")
	}
}

func TestHandler_InvalidArgs(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)
	b := c.Builtin()

	if _, err := b.Handler(context.Background(), `{invalid`); err == nil {
		t.Error("expected error for invalid JSON arguments")
	}
}

func TestBuiltin_Definition(t *testing.T) {
	t.Parallel()
	c := newCatalogue(t)
	b := c.Builtin()

	if b.Definition.Name != "search_structured_products" {
		t.Errorf("unexpected tool name %q", b.Definition.Name)
	}
	props, ok := b.Definition.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatal("expected properties in parameter schema")
	}
	for _, key := range []string{"risk_profile", "currency", "min_coupon_pa"} {
		if _, ok := props[key]; !ok {
			t.Errorf("missing parameter %q in schema", key)
		}
	}
}
