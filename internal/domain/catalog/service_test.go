package catalog_test

import (
	"context"
	"testing"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/repository"
	"github.com/rpggio/shopbrain/internal/repository/mocks"
	"github.com/stretchr/testify/require"
)

func TestCatalogService_GetNotFound(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProductRepository{}
	repo.On("Get", ctx, int64(9)).Return(nil, repository.ErrNotFound)

	svc := catalog.NewService(repo, nil)
	_, err := svc.Get(ctx, 9)
	require.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = svc.Get(ctx, 0)
	require.ErrorIs(t, err, catalog.ErrInvalidInput)
}

func TestCatalogService_SearchClampsPaging(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProductRepository{}
	repo.On("Search", ctx, "remera", 100, 100).Return([]catalog.Product{
		{ID: 3, Name: "", Type: catalog.TypeSimple, RegularPrice: "10", SalePrice: "8"},
	}, 101, nil)

	svc := catalog.NewService(repo, nil)
	res, err := svc.Search(ctx, " remera ", 2, 500)
	require.NoError(t, err)
	require.Equal(t, 100, res.PerPage)
	require.Equal(t, 101, res.Total)
	require.Len(t, res.Items, 1)
	require.Equal(t, "Producto #3", res.Items[0].Title)
	require.Equal(t, "8", res.Items[0].Price)
	require.Equal(t, []string{}, res.Items[0].Categories)
}

func TestCatalogService_VariationsOfSimpleProductAreEmpty(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProductRepository{}
	repo.On("Get", ctx, int64(1)).Return(&catalog.Product{ID: 1, Type: catalog.TypeSimple}, nil)

	svc := catalog.NewService(repo, nil)
	page, err := svc.Variations(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, 50, page.Limit)
	repo.AssertNotCalled(t, "ListChildren")
}

func TestCatalogService_VariationLabels(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProductRepository{}
	repo.On("Get", ctx, int64(10)).Return(&catalog.Product{ID: 10, Type: catalog.TypeVariable}, nil)
	repo.On("ListChildren", ctx, int64(10), 200, 0).Return([]catalog.Product{
		{ID: 11, ParentID: 10, Type: catalog.TypeVariation, RegularPrice: "100",
			Attributes: map[string]string{"attribute_talle": "M", "attribute_color": "rojo"}},
		{ID: 12, ParentID: 10, Type: catalog.TypeVariation, RegularPrice: "150"},
	}, 2, nil)

	svc := catalog.NewService(repo, nil)
	page, err := svc.Variations(ctx, 10, 999, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, "#11 (color: rojo, talle: M)", page.Items[0].Label)
	require.Equal(t, map[string]string{"color": "rojo", "talle": "M"}, page.Items[0].Attributes)
	require.Equal(t, "#12", page.Items[1].Label)

	p, err := svc.Get(ctx, 10)
	require.NoError(t, err)
	regular, sale, err := svc.PriceDisplay(ctx, p)
	require.NoError(t, err)
	require.Equal(t, "100–150", regular)
	require.Equal(t, "", sale)
}

func TestCatalogService_AllVariationsWalksPages(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProductRepository{}
	repo.On("Get", ctx, int64(10)).Return(&catalog.Product{ID: 10, Type: catalog.TypeVariable}, nil)

	first := make([]catalog.Product, 200)
	for i := range first {
		first[i] = catalog.Product{ID: int64(100 + i), ParentID: 10, Type: catalog.TypeVariation, RegularPrice: "1000"}
	}
	repo.On("ListChildren", ctx, int64(10), 200, 0).Return(first, 201, nil)
	repo.On("ListChildren", ctx, int64(10), 200, 200).Return([]catalog.Product{
		{ID: 400, ParentID: 10, Type: catalog.TypeVariation, RegularPrice: "900"},
	}, 201, nil)

	svc := catalog.NewService(repo, nil)
	all, err := catalog.AllVariations(ctx, svc, 10)
	require.NoError(t, err)
	require.Len(t, all, 201)
	require.Equal(t, int64(400), all[200].ID)

	p, err := svc.Get(ctx, 10)
	require.NoError(t, err)
	regular, _, err := svc.PriceDisplay(ctx, p)
	require.NoError(t, err)
	require.Equal(t, "900–1000", regular)
}
