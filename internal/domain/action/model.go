// Package action holds the canonical shape of a proposed catalog mutation and
// the rules that turn a loosely shaped planner draft into it.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rpggio/shopbrain/internal/normalize"
)

// Type is the kind of mutation.
type Type string

const (
	TypeUpdateProduct    Type = "update_product"
	TypeUpdateVariations Type = "update_variations"
	TypeBulkUpdate       Type = "bulk_update"
)

const (
	FieldRegularPrice = "regular_price"
	FieldSalePrice    = "sale_price"
)

// Risk levels reported to the user on the confirmation card.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
)

// Action is a proposed mutation. After Normalize, update_product actions use
// Changes and update_variations actions use the variation price maps.
type Action struct {
	Type                Type           `json:"type"`
	HumanSummary        string         `json:"human_summary,omitempty"`
	ProductID           ID             `json:"product_id,omitempty"`
	Changes             map[string]any `json:"changes,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
	VariationPrices     PriceMap       `json:"variation_prices,omitempty"`
	VariationSalePrices PriceMap       `json:"variation_sale_prices,omitempty"`
	Risk                string         `json:"risk,omitempty"`
}

// Change returns the string form of a change field.
func (a Action) Change(field string) (string, bool) {
	v, ok := a.Changes[field]
	if !ok {
		return "", false
	}
	return normalize.Stringify(v), true
}

// HasPriceChange reports whether the action touches a price-like field.
func (a Action) HasPriceChange() bool {
	for _, k := range []string{FieldRegularPrice, FieldSalePrice, "price", "offer"} {
		if _, ok := a.Changes[k]; ok {
			return true
		}
	}
	return len(a.VariationPrices) > 0 || len(a.VariationSalePrices) > 0
}

// Clone returns a deep copy of the action's maps.
func (a Action) Clone() Action {
	c := a
	c.Changes = cloneMap(a.Changes)
	c.Payload = cloneMap(a.Payload)
	c.VariationPrices = a.VariationPrices.clone()
	c.VariationSalePrices = a.VariationSalePrices.clone()
	return c
}

// ID is a product id that accepts JSON numbers and strings such as "#42".
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ParseID(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("product_id: %w", err)
	}
	if f < 0 {
		f = 0
	}
	*id = ID(int64(f))
	return nil
}

// ParseID keeps the digits of s ("#42" -> 42); anything else yields 0.
func ParseID(s string) ID {
	n, err := strconv.ParseInt(normalize.Digits(s), 10, 64)
	if err != nil {
		return 0
	}
	return ID(n)
}

// PriceMap maps variation ids to prices. It accepts numeric JSON values.
type PriceMap map[string]string

func (m *PriceMap) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(PriceMap, len(raw))
	for k, v := range raw {
		out[k] = normalize.Stringify(v)
	}
	*m = out
	return nil
}

func (m PriceMap) clone() PriceMap {
	if m == nil {
		return nil
	}
	out := make(PriceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isVariationKey(k string) bool {
	k = strings.TrimSpace(k)
	return k != "" && normalize.Digits(k) != "" && strings.Trim(k, "#0123456789 ") == ""
}
