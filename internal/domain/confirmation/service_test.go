package confirmation_test

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/domain/brainerr"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/executor"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/repository"
	"github.com/stretchr/testify/require"
)

type memStates struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStates) Load(_ context.Context, key string) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var st session.State
	return &st, json.Unmarshal(b, &st)
}

func (m *memStates) Save(_ context.Context, key string, st *session.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memStates) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// shop is an in-memory catalog that serves both reads and executor writes.
type shop struct {
	products    map[int64]*catalog.Product
	ignoreWrite bool
	updates     int
}

func (s *shop) Get(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *shop) Update(_ context.Context, p *catalog.Product) error {
	s.updates++
	if s.ignoreWrite {
		return nil
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *shop) Variations(_ context.Context, productID int64, limit, offset int) (*catalog.VariationPage, error) {
	var items []catalog.Variation
	for _, p := range s.products {
		if p.ParentID == productID && p.Type == catalog.TypeVariation {
			items = append(items, catalog.ToVariation(p))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	if offset >= total {
		items = nil
	} else {
		items = items[offset:min(offset+limit, total)]
	}
	return &catalog.VariationPage{ProductID: productID, Total: total, Limit: limit, Offset: offset, Items: items}, nil
}

type countingExecutor struct {
	*executor.Executor
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, a action.Action, ec executor.ExecContext) (*executor.Result, error) {
	c.calls++
	return c.Executor.Execute(ctx, a, ec)
}

type fixture struct {
	store *session.Service
	shop  *shop
	exec  *countingExecutor
	svc   *confirmation.Service
	scope session.Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sh := &shop{products: map[int64]*catalog.Product{
		42: {ID: 42, Type: catalog.TypeSimple, Name: "Remera", RegularPrice: "1200"},
		50: {ID: 50, Type: catalog.TypeVariable, Name: "Zapatilla"},
		51: {ID: 51, ParentID: 50, Type: catalog.TypeVariation, RegularPrice: "100", Attributes: map[string]string{"attribute_talle": "40"}},
		52: {ID: 52, ParentID: 50, Type: catalog.TypeVariation, RegularPrice: "150", Attributes: map[string]string{"attribute_talle": "41"}},
	}}
	store := session.NewService(&memStates{data: map[string][]byte{}}, nil)
	exec := &countingExecutor{Executor: executor.New(sh, nil)}
	return &fixture{
		store: store,
		shop:  sh,
		exec:  exec,
		svc:   confirmation.NewService(store, sh, exec, nil, nil),
		scope: session.NewScope("7", "tab", "1"),
	}
}

func (f *fixture) pending(t *testing.T, a action.Action) session.PendingAction {
	t.Helper()
	pa := f.store.NewPendingAction(a)
	_, err := f.store.Patch(context.Background(), f.scope, func(s *session.State) { s.SetPendingAction(pa) })
	require.NoError(t, err)
	return pa
}

func (f *fixture) state(t *testing.T) *session.State {
	t.Helper()
	st, err := f.store.Get(context.Background(), f.scope)
	require.NoError(t, err)
	return st
}

func requireBrainErr(t *testing.T, err error, code string, status int) *brainerr.Error {
	t.Helper()
	require.Error(t, err)
	be := brainerr.As(err)
	require.Equal(t, code, be.Code)
	require.Equal(t, status, be.HTTPStatus())
	return be
}

func TestConfirm_SimpleProductExecutesOnce(t *testing.T) {
	f := newFixture(t)
	pa := f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"regular_price": "1500"}})

	res, err := f.svc.Confirm(context.Background(), f.scope, pa.ID, "apai_t")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, confirmation.ModeSingle, res.Mode)
	require.Equal(t, confirmation.SuccessReply, res.Reply)
	require.True(t, strings.HasPrefix(res.Reply, "✅"))
	require.Equal(t, 1, f.exec.calls)
	require.Equal(t, "1500", f.shop.products[42].RegularPrice)
	require.Nil(t, res.Warning)

	require.Equal(t, session.PhaseIdle, f.state(t).Phase())
	require.Equal(t, 0, res.State.PendingCount())
}

func TestConfirm_NoPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	requireBrainErr(t, err, "no_pending", 400)
	require.ErrorIs(t, err, brainerr.ErrNoPending)
}

func TestConfirm_MismatchLeavesPendingUntouched(t *testing.T) {
	f := newFixture(t)
	pa := f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"regular_price": "1500"}})

	_, err := f.svc.Confirm(context.Background(), f.scope, "pa_0000000000", "")
	requireBrainErr(t, err, "pending_mismatch", 409)
	require.ErrorIs(t, err, brainerr.ErrPendingMismatch)

	st := f.state(t)
	require.NotNil(t, st.PendingAction)
	require.Equal(t, pa.ID, st.PendingAction.ID)
	require.Equal(t, 0, f.exec.calls)
	require.Equal(t, "1200", f.shop.products[42].RegularPrice)
}

func TestConfirm_TargetDeletedBeforeConfirm(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 999, Changes: map[string]any{"regular_price": "1"}})

	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	be := requireBrainErr(t, err, "not_found", 404)
	require.Contains(t, be.Message, "#999")
	require.NotNil(t, f.state(t).PendingAction)
}

func TestConfirm_ExecutorMissingKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"regular_price": "1500"}})
	svc := confirmation.NewService(f.store, f.shop, nil, nil, nil)

	_, err := svc.Confirm(context.Background(), f.scope, "", "")
	requireBrainErr(t, err, "agent_missing", 503)
	require.ErrorIs(t, err, brainerr.ErrExecutorUnavailable)
	require.NotNil(t, f.state(t).PendingAction)
}

func TestConfirm_ValidatorRejection(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"color": "rojo"}})

	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	requireBrainErr(t, err, "field_not_allowed", 400)
	require.NotNil(t, f.state(t).PendingAction)
}

func TestConfirm_PostcheckMismatchWarns(t *testing.T) {
	f := newFixture(t)
	f.shop.ignoreWrite = true
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"regular_price": "1500"}})

	res, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotNil(t, res.Warning)
	require.Equal(t, confirmation.PostcheckMismatchCode, res.Warning.Code)
	require.Equal(t, "1500", res.Warning.WantedRegularPrice)
	require.Equal(t, "1200", res.Warning.ObservedRegularPrice)
	require.Equal(t, "⚠️ "+confirmation.PostcheckMismatchMessage, res.Reply)
	require.Nil(t, f.state(t).PendingAction)
}

func TestConfirm_UpdateVariationsToleratesPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{
		Type:            action.TypeUpdateVariations,
		ProductID:       50,
		VariationPrices: action.PriceMap{"#51": "200", "52": "abc"},
	})

	res, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	require.NoError(t, err)
	require.Equal(t, confirmation.ModeUpdateVariations, res.Mode)
	require.Equal(t, 1, res.VariationsUpdated)
	require.Len(t, res.VariationErrors, 1)
	require.Equal(t, "✅ Listo: actualicé 1 variación. 1 no se pudo actualizar.", res.Reply)
	require.Equal(t, "200", f.shop.products[51].RegularPrice)
	require.Equal(t, "150", f.shop.products[52].RegularPrice)
}

func TestConfirm_UpdateVariationsAllFail(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{
		Type:            action.TypeUpdateVariations,
		ProductID:       50,
		VariationPrices: action.PriceMap{"51": "abc", "52": "xyz"},
	})

	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	be := requireBrainErr(t, err, "variations_failed", 500)
	require.True(t, strings.HasPrefix(be.Message, "#51:"))
	require.NotNil(t, f.state(t).PendingAction)
}

func TestConfirm_UpdateVariationsOnSimpleProduct(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateVariations, ProductID: 42, VariationPrices: action.PriceMap{"51": "1"}})

	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	requireBrainErr(t, err, "not_variable", 400)
}

func TestConfirm_VariableProductAppliesToEveryVariation(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 50, Changes: map[string]any{"regular_price": "300"}})

	res, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	require.NoError(t, err)
	require.Equal(t, confirmation.ModeVariableApplyToVars, res.Mode)
	require.Equal(t, 2, res.VariationsUpdated)
	require.Equal(t, 2, f.exec.calls)
	require.Equal(t, "300", f.shop.products[51].RegularPrice)
	require.Equal(t, "300", f.shop.products[52].RegularPrice)
	require.Equal(t, "✅ Listo: actualicé 2 variaciones.", res.Reply)
}

func TestCancel_ClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 42, Changes: map[string]any{"regular_price": "1500"}})

	res, err := f.svc.Cancel(context.Background(), f.scope, "")
	require.NoError(t, err)
	require.True(t, res.ShouldClearPending)
	require.Equal(t, 0, res.State.PendingCount())
	require.Equal(t, session.PhaseIdle, f.state(t).Phase())

	// Nothing pending is still a success.
	_, err = f.svc.Cancel(context.Background(), f.scope, "")
	require.NoError(t, err)
	require.Equal(t, 0, f.exec.calls)
}

func TestApplyVariations_RequiresSelector(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyVariations(context.Background(), f.scope, []int64{51}, false, "")
	requireBrainErr(t, err, "no_variation_selector", 400)
}

func openSelector(t *testing.T, f *fixture, changes map[string]string) {
	t.Helper()
	_, err := f.store.Patch(context.Background(), f.scope, func(s *session.State) {
		s.OpenSelector(session.TargetSelection{Kind: session.SelectorVariation, ProductID: 50, Changes: changes, Total: 2})
	})
	require.NoError(t, err)
}

func TestApplyVariations_EmptySelectionKeepsSelector(t *testing.T) {
	f := newFixture(t)
	openSelector(t, f, map[string]string{"regular_price": "200"})

	res, err := f.svc.ApplyVariations(context.Background(), f.scope, []int64{999, 0}, false, "")
	require.NoError(t, err)
	require.Contains(t, res.Reply, "No seleccionaste variaciones")
	require.Equal(t, session.PhaseAwaitingTargetSelection, f.state(t).Phase())
}

func TestApplyVariations_ThenConfirm(t *testing.T) {
	f := newFixture(t)
	openSelector(t, f, map[string]string{"regular_price": "200", "sale_price": "180"})

	res, err := f.svc.ApplyVariations(context.Background(), f.scope, nil, true, "")
	require.NoError(t, err)
	require.Equal(t, "Perfecto. Preparé la acción para **2** variaciones. Tocá **Confirmar** para ejecutarla.", res.Reply)

	st := f.state(t)
	require.Nil(t, st.PendingTargetSelection)
	require.NotNil(t, st.PendingAction)
	require.Equal(t, action.TypeBulkUpdate, st.PendingAction.Action.Type)
	require.Equal(t, "Aplicar precio a $200 y oferta a $180 en 2 variaciones.", st.PendingAction.Action.HumanSummary)

	conf, err := f.svc.Confirm(context.Background(), f.scope, st.PendingAction.ID, "")
	require.NoError(t, err)
	require.Equal(t, 2, conf.VariationsUpdated)
	require.Equal(t, "200", f.shop.products[51].RegularPrice)
	require.Equal(t, "180", f.shop.products[52].SalePrice)
	require.Equal(t, 0, conf.State.PendingCount())
}

func TestApplyVariations_SelectedSubset(t *testing.T) {
	f := newFixture(t)
	openSelector(t, f, map[string]string{"regular_price": "99"})

	_, err := f.svc.ApplyVariations(context.Background(), f.scope, []int64{52, 52, 777}, false, "")
	require.NoError(t, err)

	st := f.state(t)
	require.Equal(t, "Aplicar precio a $99 en 1 variación.", st.PendingAction.Action.HumanSummary)
	require.Equal(t, map[string]any{"52": map[string]any{"regular_price": "99"}}, st.PendingAction.Action.Changes)
}

func TestConfirm_UpdateVariationsSkipsForeignIDs(t *testing.T) {
	f := newFixture(t)
	f.shop.products[99] = &catalog.Product{ID: 99, Type: catalog.TypeSimple, Name: "Otro", RegularPrice: "5000"}
	f.pending(t, action.Action{
		Type:            action.TypeUpdateVariations,
		ProductID:       50,
		VariationPrices: action.PriceMap{"51": "120", "99": "1"},
	})

	res, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	require.NoError(t, err)
	require.Equal(t, 1, res.VariationsUpdated)
	require.Equal(t, []string{"#99: no es una variación del producto #50."}, res.VariationErrors)
	require.Equal(t, 1, f.exec.calls)
	require.Equal(t, "120", f.shop.products[51].RegularPrice)
	require.Equal(t, "5000", f.shop.products[99].RegularPrice)
}

func TestConfirm_UpdateVariationsOnlyForeignIDsFails(t *testing.T) {
	f := newFixture(t)
	f.shop.products[99] = &catalog.Product{ID: 99, Type: catalog.TypeSimple, Name: "Otro", RegularPrice: "5000"}
	f.pending(t, action.Action{
		Type:            action.TypeUpdateVariations,
		ProductID:       50,
		VariationPrices: action.PriceMap{"99": "1"},
	})

	_, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	requireBrainErr(t, err, "variations_failed", 500)
	require.Equal(t, 0, f.exec.calls)
	require.Equal(t, "5000", f.shop.products[99].RegularPrice)
	require.NotNil(t, f.state(t).PendingAction)
}

// addVariations gives product 50 n more variations at price, ids from 1000.
func addVariations(f *fixture, n int, price string) {
	for i := 0; i < n; i++ {
		id := int64(1000 + i)
		f.shop.products[id] = &catalog.Product{ID: id, ParentID: 50, Type: catalog.TypeVariation, RegularPrice: price}
	}
}

func TestConfirm_VariableProductBeyondFirstPage(t *testing.T) {
	f := newFixture(t)
	addVariations(f, 250, "1000")
	f.pending(t, action.Action{Type: action.TypeUpdateProduct, ProductID: 50, Changes: map[string]any{"regular_price": "300"}})

	res, err := f.svc.Confirm(context.Background(), f.scope, "", "")
	require.NoError(t, err)
	require.Equal(t, 252, res.VariationsUpdated)
	require.Equal(t, "300", f.shop.products[1249].RegularPrice)
}

func TestApplyVariations_BeyondFirstPage(t *testing.T) {
	f := newFixture(t)
	addVariations(f, 250, "1000")
	openSelector(t, f, map[string]string{"regular_price": "99"})

	_, err := f.svc.ApplyVariations(context.Background(), f.scope, []int64{1249}, false, "")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"1249": map[string]any{"regular_price": "99"}}, f.state(t).PendingAction.Action.Changes)

	_, err = f.store.Patch(context.Background(), f.scope, func(s *session.State) { s.ClearPending() })
	require.NoError(t, err)
	openSelector(t, f, map[string]string{"regular_price": "99"})
	_, err = f.svc.ApplyVariations(context.Background(), f.scope, nil, true, "")
	require.NoError(t, err)
	require.Len(t, f.state(t).PendingAction.Action.Changes, 252)
}
