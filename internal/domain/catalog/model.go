package catalog

import (
	"time"
)

// ProductType mirrors the store's product kinds.
type ProductType string

const (
	TypeSimple    ProductType = "simple"
	TypeVariable  ProductType = "variable"
	TypeVariation ProductType = "variation"
)

// Product is a catalog entry. Variations are products with a ParentID and
// carry their own prices; a variable parent usually has none.
type Product struct {
	ID            int64             `json:"id"`
	ParentID      int64             `json:"parent_id,omitempty"`
	Type          ProductType       `json:"type"`
	Name          string            `json:"name"`
	SKU           string            `json:"sku,omitempty"`
	Status        string            `json:"status"`
	RegularPrice  string            `json:"regular_price"`
	SalePrice     string            `json:"sale_price"`
	StockQuantity *int              `json:"stock_quantity,omitempty"`
	StockStatus   string            `json:"stock_status"`
	ManageStock   bool              `json:"manage_stock"`
	ThumbURL      string            `json:"thumb_url,omitempty"`
	Categories    []string          `json:"categories,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsVariable reports whether the product keeps its prices on variations.
func (p *Product) IsVariable() bool {
	return p != nil && p.Type == TypeVariable
}

// Price is the active price: the sale price when set, else the regular one.
func (p *Product) Price() string {
	if p.SalePrice != "" {
		return p.SalePrice
	}
	return p.RegularPrice
}

// Summary is the compact product view used by selectors and search results.
type Summary struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	SKU        string   `json:"sku"`
	Price      string   `json:"price"`
	ThumbURL   string   `json:"thumb_url"`
	Categories []string `json:"categories"`
	Status     string   `json:"status"`
	Type       string   `json:"type"`
}

// Variation is the selector view of a child product.
type Variation struct {
	ID           int64             `json:"id"`
	Label        string            `json:"label"`
	Attributes   map[string]string `json:"attributes"`
	RegularPrice string            `json:"regular_price"`
	SalePrice    string            `json:"sale_price"`
	StockStatus  string            `json:"stock_status"`
}

// SearchResult is one page of product search.
type SearchResult struct {
	Query   string    `json:"q"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Total   int       `json:"total"`
	Items   []Summary `json:"items"`
}

// VariationPage is one page of a variable product's children.
type VariationPage struct {
	ProductID int64       `json:"product_id"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
	Items     []Variation `json:"items"`
}
