package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rpggio/shopbrain/internal/normalize"
	"github.com/rpggio/shopbrain/internal/repository"
)

const (
	defaultPerPage        = 20
	maxPerPage            = 100
	defaultVariationLimit = 50
	maxVariationLimit     = 200
)

// Service exposes read access to the catalog.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new catalog service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Get fetches a product by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("getting product: %w", err)
	}
	return p, nil
}

// Summary returns the compact view of a product.
func (s *Service) Summary(ctx context.Context, id int64) (*Summary, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := Summarize(p)
	return &sum, nil
}

// Search returns one page of products whose title or SKU matches q.
// page starts at 1; perPage defaults to 20 and is capped at 100.
func (s *Service) Search(ctx context.Context, q string, page, perPage int) (*SearchResult, error) {
	q = strings.TrimSpace(q)
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	products, total, err := s.repo.Search(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}

	items := make([]Summary, 0, len(products))
	for i := range products {
		items = append(items, Summarize(&products[i]))
	}
	return &SearchResult{Query: q, Page: page, PerPage: perPage, Total: total, Items: items}, nil
}

// Variations lists the children of a variable product. Non-variable products
// yield an empty page. limit defaults to 50 and is capped at 200.
func (s *Service) Variations(ctx context.Context, productID int64, limit, offset int) (*VariationPage, error) {
	if limit <= 0 {
		limit = defaultVariationLimit
	}
	if limit > maxVariationLimit {
		limit = maxVariationLimit
	}
	if offset < 0 {
		offset = 0
	}

	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	page := &VariationPage{ProductID: productID, Limit: limit, Offset: offset, Items: []Variation{}}
	if !p.IsVariable() {
		return page, nil
	}

	children, total, err := s.repo.ListChildren(ctx, productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing variations: %w", err)
	}
	page.Total = total
	for i := range children {
		page.Items = append(page.Items, ToVariation(&children[i]))
	}
	return page, nil
}

// PriceDisplay renders the current price of a product for replies: the
// product's own price, or for variable products the single variation price
// or a "min–max" range.
func (s *Service) PriceDisplay(ctx context.Context, p *Product) (regular, sale string, err error) {
	if !p.IsVariable() {
		return p.RegularPrice, p.SalePrice, nil
	}
	vars, err := AllVariations(ctx, s, p.ID)
	if err != nil {
		return "", "", err
	}
	regs := make([]string, 0, len(vars))
	sales := make([]string, 0, len(vars))
	for _, v := range vars {
		regs = append(regs, v.RegularPrice)
		sales = append(sales, v.SalePrice)
	}
	return priceRange(regs), priceRange(sales), nil
}

// AllVariations reads every page of a product's variations.
func AllVariations(ctx context.Context, l VariationLister, productID int64) ([]Variation, error) {
	var all []Variation
	offset := 0
	for {
		page, err := l.Variations(ctx, productID, maxVariationLimit, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return all, nil
		}
	}
}

// Summarize builds the compact view of p.
func Summarize(p *Product) Summary {
	title := strings.TrimSpace(p.Name)
	if title == "" {
		title = fmt.Sprintf("Producto #%d", p.ID)
	}
	cats := p.Categories
	if cats == nil {
		cats = []string{}
	}
	return Summary{
		ID:         p.ID,
		Title:      title,
		SKU:        p.SKU,
		Price:      p.Price(),
		ThumbURL:   p.ThumbURL,
		Categories: cats,
		Status:     p.Status,
		Type:       string(p.Type),
	}
}

// ToVariation builds the selector view of a child product. The label reads
// "#123 (color: rojo, talle: M)".
func ToVariation(p *Product) Variation {
	attrs := make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[strings.TrimPrefix(k, "attribute_")] = v
	}
	return Variation{
		ID:           p.ID,
		Label:        VariationLabel(p.ID, attrs),
		Attributes:   attrs,
		RegularPrice: p.RegularPrice,
		SalePrice:    p.SalePrice,
		StockStatus:  p.StockStatus,
	}
}

// VariationLabel formats a variation id with its sorted attributes.
func VariationLabel(id int64, attrs map[string]string) string {
	label := fmt.Sprintf("#%d", id)
	if len(attrs) == 0 {
		return label
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+attrs[k])
	}
	return label + " (" + strings.Join(parts, ", ") + ")"
}

func priceRange(prices []string) string {
	var (
		min, max       float64
		minRaw, maxRaw string
		seen           bool
	)
	for _, raw := range prices {
		n, ok := normalize.ParsePrice(raw)
		if !ok {
			continue
		}
		if !seen || n < min {
			min, minRaw = n, normalize.FormatAmount(n)
		}
		if !seen || n > max {
			max, maxRaw = n, normalize.FormatAmount(n)
		}
		seen = true
	}
	switch {
	case !seen:
		return ""
	case minRaw == maxRaw:
		return minRaw
	default:
		return minRaw + "–" + maxRaw
	}
}
