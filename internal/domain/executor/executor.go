// Package executor is the only code path that mutates the catalog. It accepts
// canonical update_product actions; bulk and variation actions are split into
// per-product calls by the confirmation handler.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/normalize"
	"github.com/rpggio/shopbrain/internal/repository"
)

// AllowedFields lists the product fields an action may change.
var AllowedFields = map[string]bool{
	"regular_price":  true,
	"sale_price":     true,
	"stock_quantity": true,
	"stock_status":   true,
	"manage_stock":   true,
	"name":           true,
	"status":         true,
}

var (
	stockStatuses   = map[string]bool{"instock": true, "outofstock": true, "onbackorder": true}
	productStatuses = map[string]bool{"publish": true, "draft": true, "pending": true, "private": true}
)

// Store is the catalog access the executor needs.
type Store interface {
	Get(ctx context.Context, id int64) (*catalog.Product, error)
	Update(ctx context.Context, p *catalog.Product) error
}

// ExecContext identifies who asked for the execution.
type ExecContext struct {
	UserID    string
	PendingID string
	TraceID   string
}

// Result describes a successful execution.
type Result struct {
	OK        bool              `json:"ok"`
	ProductID int64             `json:"product_id"`
	Applied   map[string]string `json:"applied"`
}

// Executor validates and applies actions.
type Executor struct {
	store  Store
	logger *slog.Logger
}

// New creates a new executor.
func New(store Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger}
}

// Validate checks a normalized action and returns it with canonical values.
func (e *Executor) Validate(a action.Action) (action.Action, error) {
	n := action.Normalize(a)
	if n.Type != action.TypeUpdateProduct {
		return n, fmt.Errorf("%w: %s", ErrUnsupportedAction, n.Type)
	}
	if n.ProductID <= 0 {
		return n, ErrMissingProduct
	}
	if len(n.Changes) == 0 {
		return n, ErrNoChanges
	}

	out := make(map[string]any, len(n.Changes))
	for field, raw := range n.Changes {
		if !AllowedFields[field] {
			return n, fieldError(ErrFieldNotAllowed, field, raw)
		}
		v, err := canonicalValue(field, raw)
		if err != nil {
			return n, err
		}
		out[field] = v
	}
	n.Changes = out
	return n, nil
}

// Execute validates the action and writes it to the catalog.
func (e *Executor) Execute(ctx context.Context, a action.Action, ec ExecContext) (*Result, error) {
	n, err := e.Validate(a)
	if err != nil {
		return nil, err
	}

	p, err := e.store.Get(ctx, int64(n.ProductID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, catalog.ErrProductNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("loading product: %w", err)
	}

	applied := map[string]string{}
	fields := make([]string, 0, len(n.Changes))
	for field := range n.Changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		v := n.Changes[field]
		if p.IsVariable() && (field == action.FieldRegularPrice || field == action.FieldSalePrice) {
			return nil, ErrVariablePrice
		}
		apply(p, field, v)
		applied[field] = normalize.Stringify(v)
	}

	if err := e.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("updating product: %w", err)
	}

	e.logger.Info("action executed",
		"product_id", p.ID,
		"fields", sortedKeys(applied),
		"user_id", ec.UserID,
		"pending_id", ec.PendingID,
		"trace_id", ec.TraceID,
	)
	return &Result{OK: true, ProductID: p.ID, Applied: applied}, nil
}

func canonicalValue(field string, raw any) (any, error) {
	s := normalize.Stringify(raw)
	switch field {
	case action.FieldRegularPrice, action.FieldSalePrice:
		if s == "" && field == action.FieldSalePrice {
			return "", nil
		}
		n, ok := normalize.ParsePrice(s)
		if !ok || n < 0 {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return normalize.FormatAmount(n), nil
	case "stock_quantity":
		n, ok := normalize.ParseNumber(s)
		if !ok || n != math.Trunc(n) {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case "stock_status":
		s = strings.ToLower(s)
		if !stockStatuses[s] {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return s, nil
	case "status":
		s = strings.ToLower(s)
		if !productStatuses[s] {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return s, nil
	case "manage_stock":
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return strconv.FormatBool(b), nil
	case "name":
		if s == "" {
			return nil, fieldError(ErrInvalidValue, field, raw)
		}
		return s, nil
	}
	return nil, fieldError(ErrFieldNotAllowed, field, raw)
}

// apply writes a canonical value; canonicalValue already vetted it.
func apply(p *catalog.Product, field string, v any) {
	s := normalize.Stringify(v)
	switch field {
	case action.FieldRegularPrice:
		p.RegularPrice = s
	case action.FieldSalePrice:
		p.SalePrice = s
	case "stock_quantity":
		q, _ := strconv.Atoi(s)
		p.StockQuantity = &q
		p.ManageStock = true
		if q > 0 {
			p.StockStatus = "instock"
		} else if p.StockStatus == "instock" {
			p.StockStatus = "outofstock"
		}
	case "stock_status":
		p.StockStatus = s
	case "manage_stock":
		p.ManageStock = s == "true"
	case "name":
		p.Name = s
	case "status":
		p.Status = s
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
