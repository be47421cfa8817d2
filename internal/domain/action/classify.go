package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/normalize"
)

// SelectorCandidateLimit caps the variations offered in a variation selector.
const SelectorCandidateLimit = 80

// Catalog is the read access Classify needs.
type Catalog interface {
	Get(ctx context.Context, id int64) (*catalog.Product, error)
	Variations(ctx context.Context, productID int64, limit, offset int) (*catalog.VariationPage, error)
}

// OutcomeKind tells the orchestrator what to do with a draft.
type OutcomeKind string

const (
	OutcomeReady                  OutcomeKind = "ready"
	OutcomeMissingProduct         OutcomeKind = "missing_product"
	OutcomeProductNotFound        OutcomeKind = "product_not_found"
	OutcomeNoOp                   OutcomeKind = "noop"
	OutcomeNeedsVariationSelector OutcomeKind = "needs_variation_selector"
)

// Outcome is the result of Classify. Action is always the normalized draft.
type Outcome struct {
	Kind    OutcomeKind
	Action  Action
	Product *catalog.Product
	// Selector data, set for OutcomeNeedsVariationSelector.
	SelectorChanges map[string]string
	Candidates      []catalog.Variation
	CandidateTotal  int
}

// Classify normalizes a draft and checks it against the catalog.
func Classify(ctx context.Context, cat Catalog, a Action) (Outcome, error) {
	n := Normalize(a)
	out := Outcome{Kind: OutcomeReady, Action: n}

	if n.Type != TypeUpdateProduct && n.Type != TypeUpdateVariations {
		return out, nil
	}
	if n.ProductID <= 0 {
		out.Kind = OutcomeMissingProduct
		return out, nil
	}

	p, err := cat.Get(ctx, int64(n.ProductID))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			out.Kind = OutcomeProductNotFound
			return out, nil
		}
		return out, fmt.Errorf("loading product: %w", err)
	}
	out.Product = p

	if n.Type != TypeUpdateProduct {
		return out, nil
	}

	noop, err := IsNoOp(ctx, cat, p, n)
	if err != nil {
		return out, err
	}
	if noop {
		out.Kind = OutcomeNoOp
		return out, nil
	}

	if p.IsVariable() && n.HasPriceChange() {
		page, err := cat.Variations(ctx, p.ID, SelectorCandidateLimit, 0)
		if err != nil {
			return out, fmt.Errorf("loading variations: %w", err)
		}
		out.Kind = OutcomeNeedsVariationSelector
		out.Candidates = page.Items
		out.CandidateTotal = page.Total
		out.SelectorChanges = map[string]string{}
		for _, f := range []string{FieldRegularPrice, FieldSalePrice} {
			if v, ok := n.Change(f); ok && v != "" {
				out.SelectorChanges[f] = v
			}
		}
	}
	return out, nil
}

// IsNoOp reports whether every requested price already holds. Only
// regular_price and sale_price count; a draft that also changes other fields
// is never a no-op. For variable products all variations must match, and a
// product without variations is not a no-op.
func IsNoOp(ctx context.Context, cat Catalog, p *catalog.Product, n Action) (bool, error) {
	wanted := map[string]string{}
	for k := range n.Changes {
		if k != FieldRegularPrice && k != FieldSalePrice {
			return false, nil
		}
		v, _ := n.Change(k)
		wanted[k] = v
	}
	if len(wanted) == 0 {
		return false, nil
	}

	if !p.IsVariable() {
		return pricesHold(wanted, p.RegularPrice, p.SalePrice), nil
	}

	vars, err := catalog.AllVariations(ctx, cat, p.ID)
	if err != nil {
		return false, fmt.Errorf("loading variations: %w", err)
	}
	if len(vars) == 0 {
		return false, nil
	}
	for _, v := range vars {
		if !pricesHold(wanted, v.RegularPrice, v.SalePrice) {
			return false, nil
		}
	}
	return true, nil
}

func pricesHold(wanted map[string]string, regular, sale string) bool {
	if w, ok := wanted[FieldRegularPrice]; ok && !normalize.PricesEqual(w, regular) {
		return false
	}
	if w, ok := wanted[FieldSalePrice]; ok && !normalize.PricesEqual(w, sale) {
		return false
	}
	return true
}
