package action

import (
	"strconv"
	"strings"

	"github.com/rpggio/shopbrain/internal/normalize"
)

const defaultVariationSummary = "Actualizar precios de variaciones."

// fieldAliases are rewritten to their canonical field when the canonical one
// is absent. The alias key is always removed.
var fieldAliases = []struct{ alias, field string }{
	{"price", FieldRegularPrice},
	{"precio", FieldRegularPrice},
	{"offer", FieldSalePrice},
	{"oferta", FieldSalePrice},
}

// Normalize rewrites a draft into its canonical shape. It is pure and
// idempotent: Normalize(Normalize(a)) equals Normalize(a).
//
//   - payload is merged into changes (changes wins on conflicts)
//   - price aliases become regular_price / sale_price, stringified
//   - a nested variation map under changes.variations or changes.variaciones,
//     or a bulk_update whose changes are keyed by variation id, becomes an
//     update_variations action
func Normalize(a Action) Action {
	n := a.Clone()
	n.Type = Type(strings.ToLower(strings.TrimSpace(string(n.Type))))
	n.HumanSummary = strings.TrimSpace(n.HumanSummary)
	n.Risk = strings.ToLower(strings.TrimSpace(n.Risk))

	if len(n.Payload) > 0 {
		if n.Changes == nil {
			n.Changes = make(map[string]any, len(n.Payload))
		}
		for k, v := range n.Payload {
			if _, ok := n.Changes[k]; !ok {
				n.Changes[k] = v
			}
		}
	}
	n.Payload = nil
	aliasFields(n.Changes)

	switch n.Type {
	case TypeUpdateProduct, TypeBulkUpdate, TypeUpdateVariations:
		if nested, key := nestedVariations(n.Changes); nested != nil {
			delete(n.Changes, key)
			n = toVariations(n, nested)
		} else if n.Type == TypeBulkUpdate && isPerVariation(n.Changes) {
			entries := n.Changes
			n.Changes = nil
			n = toVariations(n, entries)
		}
	}

	if n.Type == TypeUpdateVariations {
		n.VariationPrices = cleanPriceMap(n.VariationPrices)
		n.VariationSalePrices = cleanPriceMap(n.VariationSalePrices)
		n.Changes = nil
		if n.HumanSummary == "" {
			n.HumanSummary = defaultVariationSummary
		}
		if n.Risk == "" {
			n.Risk = RiskMedium
		}
	}

	if len(n.Changes) == 0 {
		n.Changes = nil
	}
	return n
}

func aliasFields(changes map[string]any) {
	if changes == nil {
		return
	}
	for _, al := range fieldAliases {
		v, ok := changes[al.alias]
		if !ok {
			continue
		}
		if _, has := changes[al.field]; !has {
			changes[al.field] = v
		}
		delete(changes, al.alias)
	}
	for _, f := range []string{FieldRegularPrice, FieldSalePrice} {
		if v, ok := changes[f]; ok {
			changes[f] = normalize.Stringify(v)
		}
	}
}

func nestedVariations(changes map[string]any) (map[string]any, string) {
	for _, key := range []string{"variations", "variaciones"} {
		if m, ok := changes[key].(map[string]any); ok {
			return m, key
		}
	}
	return nil, ""
}

func isPerVariation(changes map[string]any) bool {
	if len(changes) == 0 {
		return false
	}
	for k, v := range changes {
		if !isVariationKey(k) {
			return false
		}
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// toVariations folds a vid -> price (or vid -> {regular_price, sale_price})
// map into the variation price maps of an update_variations action.
func toVariations(n Action, entries map[string]any) Action {
	prices := n.VariationPrices.clone()
	sales := n.VariationSalePrices.clone()
	if prices == nil {
		prices = PriceMap{}
	}
	if sales == nil {
		sales = PriceMap{}
	}

	for k, v := range entries {
		vid := variationID(k)
		if vid == "" {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			fields := cloneMap(t)
			aliasFields(fields)
			if s := normalize.Stringify(fields[FieldRegularPrice]); s != "" {
				prices[vid] = s
			}
			if s := normalize.Stringify(fields[FieldSalePrice]); s != "" {
				sales[vid] = s
			}
		default:
			if s := normalize.Stringify(v); s != "" {
				prices[vid] = s
			}
		}
	}

	n.Type = TypeUpdateVariations
	n.VariationPrices = prices
	n.VariationSalePrices = sales
	return n
}

func cleanPriceMap(m PriceMap) PriceMap {
	if len(m) == 0 {
		return nil
	}
	out := make(PriceMap, len(m))
	for k, v := range m {
		vid := variationID(k)
		v = strings.TrimSpace(v)
		if vid == "" || v == "" {
			continue
		}
		out[vid] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// variationID cleans "#0387" to "387"; zero and non-numeric keys yield "".
func variationID(k string) string {
	n, err := strconv.ParseInt(normalize.Digits(k), 10, 64)
	if err != nil || n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
