// Package confirmation executes, cancels and scopes pending actions. It is
// the only caller of the executor; chat text never reaches it.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/domain/brainerr"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/executor"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/normalize"
)

const (
	SuccessReply = "✅ Acción ejecutada correctamente."
	CancelReply  = "Listo, descarté la acción pendiente."

	PostcheckMismatchCode    = "postcheck_mismatch"
	PostcheckMismatchMessage = "La acción se ejecutó, pero el precio visible no cambió. Esto suele pasar si el producto es variable (el precio está en las variaciones) o si la tienda rechazó el valor."

	ModeSingle              = "single"
	ModeVariableApplyToVars = "variable_apply_to_variations"
	ModeUpdateVariations    = "update_variations"
)

// Executor validates and applies actions.
type Executor interface {
	Validate(a action.Action) (action.Action, error)
	Execute(ctx context.Context, a action.Action, ec executor.ExecContext) (*executor.Result, error)
}

// Catalog is the read access used for target checks and post-checks.
type Catalog interface {
	Get(ctx context.Context, id int64) (*catalog.Product, error)
	Variations(ctx context.Context, productID int64, limit, offset int) (*catalog.VariationPage, error)
}

// StateStore is the session access needed here.
type StateStore interface {
	Get(ctx context.Context, scope session.Scope) (*session.State, error)
	Patch(ctx context.Context, scope session.Scope, fn func(*session.State)) (*session.State, error)
	NewPendingAction(a action.Action) session.PendingAction
}

// Tracer records confirmation events.
type Tracer interface {
	Emit(traceID, event string, data any)
}

// Warning is a non-fatal observation attached to a successful execution.
type Warning struct {
	Code                 string `json:"code"`
	Message              string `json:"message"`
	ProductType          string `json:"product_type,omitempty"`
	WantedRegularPrice   string `json:"wanted_regular_price,omitempty"`
	ObservedRegularPrice string `json:"observed_regular_price,omitempty"`
	WantedSalePrice      string `json:"wanted_sale_price,omitempty"`
	ObservedSalePrice    string `json:"observed_sale_price,omitempty"`
}

// Result is the outcome of Confirm.
type Result struct {
	OK                bool              `json:"ok"`
	Mode              string            `json:"mode"`
	ProductID         int64             `json:"product_id"`
	Applied           map[string]string `json:"applied,omitempty"`
	VariationsUpdated int               `json:"variations_updated,omitempty"`
	VariationErrors   []string          `json:"variation_errors,omitempty"`
	Warning           *Warning          `json:"warning,omitempty"`
	Reply             string            `json:"reply"`
	State             *session.State    `json:"-"`
}

// Reply is the outcome of Cancel and ApplyVariations.
type Reply struct {
	Reply              string
	State              *session.State
	ShouldClearPending bool
}

// Service implements confirm, cancel and variation apply.
type Service struct {
	store   StateStore
	catalog Catalog
	exec    Executor
	tracer  Tracer
	logger  *slog.Logger
}

// NewService creates a confirmation service. exec may be nil, in which case
// Confirm fails with agent_missing and keeps the pending action.
func NewService(store StateStore, cat Catalog, exec Executor, tracer Tracer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, catalog: cat, exec: exec, tracer: tracer, logger: logger}
}

// Confirm executes the pending action of scope. When requestedID is set it
// must match the stored pending id.
func (s *Service) Confirm(ctx context.Context, scope session.Scope, requestedID, traceID string) (*Result, error) {
	st, err := s.store.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	s.emit(traceID, "confirm_in", map[string]any{"requested_id": requestedID})

	pa := st.PendingAction
	if pa == nil || pa.Action.Type == "" {
		return nil, brainerr.NoPending()
	}
	if requestedID != "" && pa.ID != "" && requestedID != pa.ID {
		s.emit(traceID, "confirm_mismatch", map[string]any{"requested_id": requestedID, "pending_id": pa.ID})
		return nil, brainerr.PendingMismatch()
	}

	a := action.Normalize(pa.Action)
	pid := int64(a.ProductID)

	var target *catalog.Product
	switch a.Type {
	case action.TypeUpdateVariations:
		target, err = s.lookup(ctx, pid)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, brainerr.NotFound(fmt.Sprintf("No encuentro el producto #%d.", pid))
		}
		if !target.IsVariable() {
			return nil, brainerr.InvalidAction("not_variable", "Este producto no es variable, así que no puedo actualizar variaciones.")
		}
		if len(a.VariationPrices) == 0 && len(a.VariationSalePrices) == 0 {
			return nil, brainerr.InvalidAction("missing_variations", "No hay variaciones para actualizar.")
		}
	case action.TypeUpdateProduct:
		target, err = s.lookup(ctx, pid)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, brainerr.NotFound(fmt.Sprintf("No encuentro el producto #%d. Cancelá la acción o elegí otro producto.", pid))
		}
	}

	if s.exec == nil {
		return nil, brainerr.ExecutorUnavailable()
	}

	ec := executor.ExecContext{UserID: scope.UserID, PendingID: pa.ID, TraceID: traceID}

	var res *Result
	switch {
	case a.Type == action.TypeUpdateVariations:
		var vars []catalog.Variation
		if vars, err = s.variations(ctx, pid); err == nil {
			res, err = s.runVariations(ctx, ec, pid, vars, variationChanges(a))
		}
		if err == nil {
			res.Mode = ModeUpdateVariations
		}
	case a.Type == action.TypeUpdateProduct && target != nil && target.IsVariable():
		res, err = s.applyToAllVariations(ctx, ec, a)
		if err == nil {
			res.Mode = ModeVariableApplyToVars
		}
	default:
		res, err = s.runSingle(ctx, ec, a)
	}
	if err != nil {
		s.emit(traceID, "confirm_error", map[string]any{"error": err.Error()})
		return nil, err
	}

	st, err = s.store.Patch(ctx, scope, func(st *session.State) { st.ClearPending() })
	if err != nil {
		return nil, fmt.Errorf("clearing pending state: %w", err)
	}
	res.State = st

	switch {
	case res.Warning != nil:
		res.Reply = "⚠️ " + res.Warning.Message
	case res.Mode == ModeSingle:
		res.Reply = SuccessReply
	default:
		res.Reply = variationsReply(res.VariationsUpdated, len(res.VariationErrors))
	}

	s.emit(traceID, "confirm_ok", map[string]any{"mode": res.Mode, "product_id": res.ProductID, "variations_updated": res.VariationsUpdated, "warning": res.Warning != nil})
	s.logger.Info("pending action confirmed", "scope", scope.Key(), "pending_id", pa.ID, "mode", res.Mode, "trace_id", traceID)
	return res, nil
}

// Cancel clears every pending field of scope. It has no execution side
// effects and succeeds when nothing is pending.
func (s *Service) Cancel(ctx context.Context, scope session.Scope, traceID string) (*Reply, error) {
	st, err := s.store.Patch(ctx, scope, func(st *session.State) { st.ClearPending() })
	if err != nil {
		return nil, fmt.Errorf("clearing pending state: %w", err)
	}
	s.emit(traceID, "pending_cleared", nil)
	return &Reply{Reply: CancelReply, State: st, ShouldClearPending: true}, nil
}

// ApplyVariations turns the open variation selector into a bulk_update
// pending action for the chosen variations.
func (s *Service) ApplyVariations(ctx context.Context, scope session.Scope, selectedIDs []int64, applyAll bool, traceID string) (*Reply, error) {
	st, err := s.store.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	sel := st.PendingTargetSelection
	if sel == nil || sel.Kind != session.SelectorVariation {
		return nil, brainerr.NoVariationSelector()
	}
	if sel.ProductID <= 0 {
		return nil, brainerr.BadSelector()
	}

	vars, err := s.variations(ctx, sel.ProductID)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(vars))
	all := make([]int64, 0, len(vars))
	for _, v := range vars {
		known[v.ID] = true
		all = append(all, v.ID)
	}

	var ids []int64
	if applyAll {
		ids = all
	} else {
		seen := map[int64]bool{}
		for _, id := range selectedIDs {
			if id <= 0 || seen[id] || !known[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return &Reply{Reply: "No seleccionaste variaciones. Marcá al menos una o tocá **Aplicar a todas**.", State: st}, nil
	}

	changes := make(map[string]any, len(ids))
	for _, id := range ids {
		entry := map[string]any{}
		for _, f := range []string{action.FieldRegularPrice, action.FieldSalePrice} {
			if v, ok := sel.Changes[f]; ok {
				entry[f] = v
			}
		}
		changes[strconv.FormatInt(id, 10)] = entry
	}

	pa := s.store.NewPendingAction(action.Action{
		Type:         action.TypeBulkUpdate,
		HumanSummary: bulkSummary(sel.Changes, len(ids)),
		ProductID:    action.ID(sel.ProductID),
		Changes:      changes,
		Risk:         action.RiskLow,
	})
	st, err = s.store.Patch(ctx, scope, func(st *session.State) { st.SetPendingAction(pa) })
	if err != nil {
		return nil, fmt.Errorf("saving pending action: %w", err)
	}
	s.emit(traceID, "variations_selected", map[string]any{"product_id": sel.ProductID, "count": len(ids), "pending_id": pa.ID})

	reply := fmt.Sprintf("Perfecto. Preparé la acción para **%d** %s. Tocá **Confirmar** para ejecutarla.", len(ids), variationWord(len(ids)))
	return &Reply{Reply: reply, State: st}, nil
}

func (s *Service) lookup(ctx context.Context, id int64) (*catalog.Product, error) {
	if id <= 0 {
		return nil, nil
	}
	p, err := s.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading product: %w", err)
	}
	return p, nil
}

func (s *Service) runSingle(ctx context.Context, ec executor.ExecContext, a action.Action) (*Result, error) {
	validated, err := s.exec.Validate(a)
	if err != nil {
		return nil, classifyExecError(err)
	}
	out, err := s.exec.Execute(ctx, validated, ec)
	if err != nil {
		return nil, classifyExecError(err)
	}
	res := &Result{OK: true, Mode: ModeSingle, ProductID: out.ProductID, Applied: out.Applied}

	if validated.Type == action.TypeUpdateProduct {
		w, err := s.postcheck(ctx, int64(validated.ProductID), validated)
		if err != nil {
			s.logger.Warn("post-check failed", "product_id", validated.ProductID, "error", err)
		}
		res.Warning = w
	}
	return res, nil
}

func (s *Service) applyToAllVariations(ctx context.Context, ec executor.ExecContext, a action.Action) (*Result, error) {
	vars, err := s.variations(ctx, int64(a.ProductID))
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, brainerr.InvalidAction("missing_variations", "No hay variaciones para actualizar.")
	}
	perVariation := make(map[int64]map[string]any, len(vars))
	for _, v := range vars {
		perVariation[v.ID] = a.Changes
	}
	return s.runVariations(ctx, ec, int64(a.ProductID), vars, perVariation)
}

// variations loads every variation of a product, across pages.
func (s *Service) variations(ctx context.Context, productID int64) ([]catalog.Variation, error) {
	vars, err := catalog.AllVariations(ctx, s.catalog, productID)
	if err != nil {
		return nil, fmt.Errorf("loading variations: %w", err)
	}
	return vars, nil
}

// runVariations executes one update_product per variation id in ascending
// order. Ids that are not children of productID are skipped and reported in
// VariationErrors. It succeeds when at least one sub-call succeeds.
func (s *Service) runVariations(ctx context.Context, ec executor.ExecContext, productID int64, children []catalog.Variation, perVariation map[int64]map[string]any) (*Result, error) {
	owned := make(map[int64]bool, len(children))
	for _, v := range children {
		owned[v.ID] = true
	}
	ids := make([]int64, 0, len(perVariation))
	for id := range perVariation {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := &Result{OK: true, ProductID: productID}
	for _, id := range ids {
		if !owned[id] {
			s.logger.Warn("variation does not belong to product", "product_id", productID, "variation_id", id)
			res.VariationErrors = append(res.VariationErrors, fmt.Sprintf("#%d: no es una variación del producto #%d.", id, productID))
			continue
		}
		child := action.Action{
			Type:      action.TypeUpdateProduct,
			ProductID: action.ID(id),
			Changes:   perVariation[id],
			Risk:      action.RiskMedium,
		}
		validated, err := s.exec.Validate(child)
		if err == nil {
			_, err = s.exec.Execute(ctx, validated, ec)
		}
		if err != nil {
			s.logger.Warn("variation update failed", "product_id", productID, "variation_id", id, "error", err)
			res.VariationErrors = append(res.VariationErrors, fmt.Sprintf("#%d: %s", id, brainerr.As(classifyExecError(err)).Message))
			continue
		}
		res.VariationsUpdated++
	}

	if res.VariationsUpdated == 0 {
		if len(res.VariationErrors) == 0 {
			return nil, brainerr.InvalidAction("missing_variations", "No hay variaciones para actualizar.")
		}
		return nil, brainerr.VariationsFailed(res.VariationErrors[0])
	}
	return res, nil
}

func (s *Service) postcheck(ctx context.Context, id int64, a action.Action) (*Warning, error) {
	wantRegular, hasRegular := a.Change(action.FieldRegularPrice)
	wantSale, hasSale := a.Change(action.FieldSalePrice)
	if !hasRegular && !hasSale {
		return nil, nil
	}
	p, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	regularOK := !hasRegular || normalize.PricesEqual(wantRegular, p.RegularPrice)
	saleOK := !hasSale || normalize.PricesEqual(wantSale, p.SalePrice)
	if regularOK && saleOK {
		return nil, nil
	}
	w := &Warning{Code: PostcheckMismatchCode, Message: PostcheckMismatchMessage, ProductType: string(p.Type)}
	if hasRegular {
		w.WantedRegularPrice, w.ObservedRegularPrice = wantRegular, p.RegularPrice
	}
	if hasSale {
		w.WantedSalePrice, w.ObservedSalePrice = wantSale, p.SalePrice
	}
	return w, nil
}

func (s *Service) emit(traceID, event string, data any) {
	if s.tracer != nil {
		s.tracer.Emit(traceID, event, data)
	}
}

func classifyExecError(err error) error {
	var be *brainerr.Error
	switch {
	case errors.As(err, &be):
		return be
	case executor.IsValidation(err):
		return brainerr.InvalidAction(executor.ValidationCode(err), err.Error()).WithCause(err)
	case errors.Is(err, catalog.ErrProductNotFound):
		return brainerr.NotFound("El producto ya no existe.").WithCause(err)
	default:
		return brainerr.ExecutionFailed("execution_failed", err.Error()).WithCause(err)
	}
}

// variationChanges merges the regular and sale price maps by variation id.
func variationChanges(a action.Action) map[int64]map[string]any {
	out := map[int64]map[string]any{}
	add := func(m action.PriceMap, field string) {
		for k, v := range m {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil || id <= 0 {
				continue
			}
			if out[id] == nil {
				out[id] = map[string]any{}
			}
			out[id][field] = v
		}
	}
	add(a.VariationPrices, action.FieldRegularPrice)
	add(a.VariationSalePrices, action.FieldSalePrice)
	return out
}

func bulkSummary(changes map[string]string, n int) string {
	var bits []string
	if v, ok := changes[action.FieldRegularPrice]; ok && v != "" {
		bits = append(bits, "precio a $"+normalize.PriceForCompare(v))
	}
	if v, ok := changes[action.FieldSalePrice]; ok && v != "" {
		bits = append(bits, "oferta a $"+normalize.PriceForCompare(v))
	}
	if len(bits) == 0 {
		return fmt.Sprintf("Actualizar %d %s.", n, variationWord(n))
	}
	summary := "Aplicar " + bits[0]
	if len(bits) > 1 {
		summary += " y " + bits[1]
	}
	return fmt.Sprintf("%s en %d %s.", summary, n, variationWord(n))
}

func variationsReply(updated, failed int) string {
	msg := fmt.Sprintf("✅ Listo: actualicé %d %s.", updated, variationWord(updated))
	switch {
	case failed == 1:
		msg += " 1 no se pudo actualizar."
	case failed > 1:
		msg += fmt.Sprintf(" %d no se pudieron actualizar.", failed)
	}
	return msg
}

func variationWord(n int) string {
	if n == 1 {
		return "variación"
	}
	return "variaciones"
}
