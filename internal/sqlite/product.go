package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/repository"
)

const productColumns = `
	p.id, p.parent_id, p.type, p.name, p.sku, p.status, p.regular_price, p.sale_price,
	p.stock_quantity, p.stock_status, p.manage_stock, p.thumb_url, p.categories, p.attributes, p.updated_at`

// ProductRepository implements catalog.Repository for SQLite
type ProductRepository struct {
	db *DB
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a product. Variations must reference an existing parent.
func (r *ProductRepository) Create(ctx context.Context, p *catalog.Product) error {
	if p == nil || p.ID <= 0 {
		return repository.ErrInvalidInput
	}
	cats, attrs, err := encodeProductJSON(p)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO products (
			id, parent_id, type, name, sku, status, regular_price, sale_price,
			stock_quantity, stock_status, manage_stock, thumb_url, categories, attributes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		nullableID(p.ParentID),
		string(p.Type),
		p.Name,
		p.SKU,
		defaultString(p.Status, "publish"),
		p.RegularPrice,
		p.SalePrice,
		nullableInt(p.StockQuantity),
		defaultString(p.StockStatus, "instock"),
		p.ManageStock,
		p.ThumbURL,
		cats,
		attrs,
		p.UpdatedAt,
	)
	if err != nil {
		return writeError("create product", err)
	}
	return nil
}

// Get retrieves a product by ID
func (r *ProductRepository) Get(ctx context.Context, id int64) (*catalog.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListChildren returns one page of variations of parentID and their total.
func (r *ProductRepository) ListChildren(ctx context.Context, parentID int64, limit, offset int) ([]catalog.Product, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE parent_id = ?`, parentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count variations: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.parent_id = ? ORDER BY p.id LIMIT ? OFFSET ?`,
		parentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list variations: %w", err)
	}
	defer rows.Close()

	items, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Search matches top-level products by title or SKU prefix through the FTS
// index. A numeric query also matches the product id. An empty query lists
// every top-level product.
func (r *ProductRepository) Search(ctx context.Context, query string, limit, offset int) ([]catalog.Product, int, error) {
	where := `p.type IN ('simple', 'variable')`
	var args []interface{}

	match := ftsQuery(query)
	id, idErr := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(query), "#"), 10, 64)
	switch {
	case match != "" && idErr == nil:
		where += ` AND (p.id = ? OR p.id IN (SELECT rowid FROM products_fts WHERE products_fts MATCH ?))`
		args = append(args, id, match)
	case match != "":
		where += ` AND p.id IN (SELECT rowid FROM products_fts WHERE products_fts MATCH ?)`
		args = append(args, match)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products p WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products p WHERE `+where+` ORDER BY p.updated_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	items, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update writes every mutable field of p.
func (r *ProductRepository) Update(ctx context.Context, p *catalog.Product) error {
	if p == nil || p.ID <= 0 {
		return repository.ErrInvalidInput
	}
	cats, attrs, err := encodeProductJSON(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE products SET
			name = ?, sku = ?, status = ?, regular_price = ?, sale_price = ?,
			stock_quantity = ?, stock_status = ?, manage_stock = ?, thumb_url = ?,
			categories = ?, attributes = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.SKU,
		defaultString(p.Status, "publish"),
		p.RegularPrice,
		p.SalePrice,
		nullableInt(p.StockQuantity),
		defaultString(p.StockStatus, "instock"),
		p.ManageStock,
		p.ThumbURL,
		cats,
		attrs,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return writeError("update product", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*catalog.Product, error) {
	var (
		p           catalog.Product
		parentID    sql.NullInt64
		typ         string
		stock       sql.NullInt64
		manageStock bool
		cats, attrs string
	)
	err := row.Scan(
		&p.ID,
		&parentID,
		&typ,
		&p.Name,
		&p.SKU,
		&p.Status,
		&p.RegularPrice,
		&p.SalePrice,
		&stock,
		&p.StockStatus,
		&manageStock,
		&p.ThumbURL,
		&cats,
		&attrs,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Type = catalog.ProductType(typ)
	p.ManageStock = manageStock
	if parentID.Valid {
		p.ParentID = parentID.Int64
	}
	if stock.Valid {
		q := int(stock.Int64)
		p.StockQuantity = &q
	}
	if err := json.Unmarshal([]byte(cats), &p.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return &p, nil
}

func scanProducts(rows *sql.Rows) ([]catalog.Product, error) {
	var items []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return items, nil
}

func encodeProductJSON(p *catalog.Product) (string, string, error) {
	cats := p.Categories
	if cats == nil {
		cats = []string{}
	}
	attrs := p.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	c, err := json.Marshal(cats)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode categories: %w", err)
	}
	a, err := json.Marshal(attrs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(c), string(a), nil
}

// ftsQuery turns free text into an FTS5 prefix query ("remera roja" ->
// "remera"* "roja"*). Input is split on anything that is not a letter or
// digit, the same way the unicode61 tokenizer splits indexed text, so user
// input can't inject FTS syntax.
func ftsQuery(q string) string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}

func nullableID(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
