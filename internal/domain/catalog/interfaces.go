package catalog

import "context"

// Repository provides product persistence. Get returns repository.ErrNotFound
// for unknown ids.
type Repository interface {
	Get(ctx context.Context, id int64) (*Product, error)
	ListChildren(ctx context.Context, parentID int64, limit, offset int) ([]Product, int, error)
	Search(ctx context.Context, query string, limit, offset int) ([]Product, int, error)
	Update(ctx context.Context, p *Product) error
}

// VariationLister pages through the variations of a product.
type VariationLister interface {
	Variations(ctx context.Context, productID int64, limit, offset int) (*VariationPage, error)
}
