// Package orchestrator runs one conversational turn: slot recovery, the
// button-only rule for pending actions, the planner call and the branching
// of its plan into session state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/intent"
	"github.com/rpggio/shopbrain/internal/normalize"
	"github.com/rpggio/shopbrain/internal/planner"
)

const (
	UseConfirmButtonReply = "Para ejecutar la acción pendiente, tocá **Confirmar** en la tarjeta."
	UseCancelButtonReply  = "Para cancelar la acción pendiente, tocá **Cancelar** en la tarjeta."
	MissingProductReply   = "¿Qué producto querés modificar? Decime el **ID** o el nombre, y si querés puedo buscarlo por título."
	DefaultDraftReply     = "Ok. Te dejo la acción preparada. Revisala y tocá Confirmar para ejecutarla."
	DefaultAnswerReply    = "Ok. ¿Qué querés hacer con tu tienda?"
	DefaultConflictReply  = "Tenés una acción pendiente. ¿Querés seguir con esa o reemplazarla por la nueva?"

	ChoiceSwapToDeferred = "swap_to_deferred"
	OptionKeepPending    = "keep_pending"
	OptionSwapToDeferred = "swap_to_deferred"
)

var conflictPhrase = regexp.MustCompile(`(?i)ten[eé]s una acci[oó]n pendiente`)

// Planner produces a plan for a message.
type Planner interface {
	Plan(ctx context.Context, message string, lite planner.ContextLite, history []planner.Turn) planner.Plan
}

// Catalog is the read access needed to classify drafts and render prices.
type Catalog interface {
	action.Catalog
	PriceDisplay(ctx context.Context, p *catalog.Product) (regular, sale string, err error)
}

// StateStore is the session access needed by a turn.
type StateStore interface {
	Get(ctx context.Context, scope session.Scope) (*session.State, error)
	Patch(ctx context.Context, scope session.Scope, fn func(*session.State)) (*session.State, error)
	NewPendingAction(a action.Action) session.PendingAction
	Now() int64
}

// Tracer records turn events.
type Tracer interface {
	Emit(traceID, event string, data any)
}

// Config tunes the orchestrator.
type Config struct {
	// ConflictPhraseFallback treats a planner reply mentioning an existing
	// pending action as a conflict even when the structured flag is absent.
	ConflictPhraseFallback bool
}

// TurnRequest is one user message.
type TurnRequest struct {
	Scope   session.Scope
	Message string
	History []planner.Turn
	TraceID string
}

// PendingChoice asks the user to keep the pending action or replace it with
// one built from DeferredMessage.
type PendingChoice struct {
	Choice          string   `json:"choice"`
	DeferredMessage string   `json:"deferred_message"`
	Options         []string `json:"options"`
}

// Meta is the machine-readable part of a turn result.
type Meta struct {
	TraceID            string         `json:"trace_id"`
	PlanKind           string         `json:"plan_kind,omitempty"`
	Outcome            string         `json:"outcome,omitempty"`
	PendingChoice      *PendingChoice `json:"pending_choice,omitempty"`
	ShouldClearPending bool           `json:"should_clear_pending,omitempty"`
}

// TurnResult is the reply to a turn and the state after it.
type TurnResult struct {
	Reply string
	State *session.State
	Meta  Meta
}

// Orchestrator handles chat turns.
type Orchestrator struct {
	store   StateStore
	catalog Catalog
	planner Planner
	tracer  Tracer
	cfg     Config
	logger  *slog.Logger
}

// New creates an orchestrator. tracer may be nil.
func New(store StateStore, cat Catalog, p Planner, tracer Tracer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, catalog: cat, planner: p, tracer: tracer, cfg: cfg, logger: logger}
}

// HandleTurn processes one message for a scope.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	st, err := o.store.Get(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	o.emit(req.TraceID, "chat_in", map[string]any{"tab_id": req.Scope.TabID, "tab_instance": req.Scope.TabInstance})

	message := req.Message

	if pq := st.PendingQuestion; pq != nil {
		rec := RecoverSlots(pq.Missing, message)
		o.emit(req.TraceID, "slot_recovery", map[string]any{"missing": pq.Missing, "remaining": rec.Missing, "product_id": rec.ProductID, "price": rec.Price})
		if !rec.Complete() {
			st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) {
				if s.PendingQuestion != nil {
					s.PendingQuestion.Missing = rec.Missing
				}
			})
			if err != nil {
				return nil, fmt.Errorf("saving pending question: %w", err)
			}
			return o.result(req, st, reaskReply(pq, rec.Missing), Meta{Outcome: "awaiting_slots"}), nil
		}
		message = rec.Message
		st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) { s.PendingQuestion = nil })
		if err != nil {
			return nil, fmt.Errorf("clearing pending question: %w", err)
		}
	}

	if st.PendingAction != nil {
		if intent.LooksLikeConfirm(message) {
			o.emit(req.TraceID, "golden_rule", map[string]any{"intercepted": "confirm"})
			return o.result(req, st, UseConfirmButtonReply, Meta{Outcome: "use_confirm_button"}), nil
		}
		if intent.LooksLikeCancel(message) {
			o.emit(req.TraceID, "golden_rule", map[string]any{"intercepted": "cancel"})
			return o.result(req, st, UseCancelButtonReply, Meta{Outcome: "use_cancel_button"}), nil
		}
	}

	plan := o.planner.Plan(ctx, message, contextLite(st), req.History)
	o.emit(req.TraceID, "llm_plan", map[string]any{"kind": plan.Kind(), "plan": plan})
	meta := Meta{PlanKind: string(plan.Kind())}
	reply := strings.TrimSpace(plan.Text())

	if st.PendingAction != nil && o.conflicts(plan) {
		if reply == "" {
			reply = DefaultConflictReply
		}
		return o.pendingChoice(req, st, message, reply, meta), nil
	}

	switch p := plan.(type) {
	case planner.Question:
		if reply == "" {
			reply = missingReply(p.Missing)
		}
		// The pending action stays; the question is asked again once it is
		// confirmed, canceled or replaced.
		if st.PendingAction != nil {
			meta.Outcome = "pending_kept"
			return o.result(req, st, reply, meta), nil
		}
		q := session.PendingQuestion{Missing: append([]string(nil), p.Missing...), Question: reply, TS: o.store.Now() / 1000}
		st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) { s.AskQuestion(q) })
		if err != nil {
			return nil, fmt.Errorf("saving pending question: %w", err)
		}
		meta.Outcome = "awaiting_slots"
		return o.result(req, st, reply, meta), nil

	case planner.DraftAction:
		return o.handleDraft(ctx, req, st, message, p, reply, meta)

	default:
		if reply == "" {
			reply = DefaultAnswerReply
		}
		meta.Outcome = "answer"
		return o.result(req, st, reply, meta), nil
	}
}

// pendingChoice offers keeping the pending action or replacing it with one
// built from message. State is left untouched.
func (o *Orchestrator) pendingChoice(req TurnRequest, st *session.State, message, reply string, meta Meta) *TurnResult {
	meta.Outcome = "pending_choice"
	meta.PendingChoice = &PendingChoice{
		Choice:          ChoiceSwapToDeferred,
		DeferredMessage: message,
		Options:         []string{OptionKeepPending, OptionSwapToDeferred},
	}
	o.emit(req.TraceID, "pending_choice", map[string]any{"pending_id": st.PendingAction.ID})
	return o.result(req, st, reply, meta)
}

func (o *Orchestrator) handleDraft(ctx context.Context, req TurnRequest, st *session.State, message string, p planner.DraftAction, reply string, meta Meta) (*TurnResult, error) {
	out, err := action.Classify(ctx, o.catalog, p.Action)
	if err != nil {
		return nil, fmt.Errorf("classifying draft: %w", err)
	}
	meta.Outcome = string(out.Kind)
	o.emit(req.TraceID, "draft_outcome", map[string]any{"outcome": out.Kind, "action": out.Action})

	switch out.Kind {
	case action.OutcomeMissingProduct:
		return o.result(req, st, MissingProductReply, meta), nil

	case action.OutcomeProductNotFound:
		msg := fmt.Sprintf("No encuentro el producto #%d. ¿Me pasás un ID válido o el nombre del producto?", out.Action.ProductID)
		return o.result(req, st, msg, meta), nil

	case action.OutcomeNoOp:
		msg, err := o.noOpReply(ctx, out.Product, out.Action)
		if err != nil {
			return nil, err
		}
		if st.PendingAction != nil {
			return o.result(req, st, msg, meta), nil
		}
		st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) { s.ClearPending() })
		if err != nil {
			return nil, fmt.Errorf("clearing pending state: %w", err)
		}
		meta.ShouldClearPending = true
		return o.result(req, st, msg, meta), nil
	}

	// Only confirm, cancel or expiry end a pending action. A new draft has
	// to go through the keep/replace choice.
	if st.PendingAction != nil {
		return o.pendingChoice(req, st, message, DefaultConflictReply, meta), nil
	}

	if out.Kind == action.OutcomeNeedsVariationSelector {
		sel := session.TargetSelection{
			Kind:       session.SelectorVariation,
			ProductID:  out.Product.ID,
			Changes:    out.SelectorChanges,
			Candidates: variationCandidates(out.Candidates),
			Total:      out.CandidateTotal,
			Limit:      action.SelectorCandidateLimit,
			AskedAt:    o.store.Now() / 1000,
		}
		st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) { s.OpenSelector(sel) })
		if err != nil {
			return nil, fmt.Errorf("opening variation selector: %w", err)
		}
		return o.result(req, st, selectorReply(out.SelectorChanges), meta), nil
	}

	pa := o.store.NewPendingAction(out.Action)
	st, err = o.store.Patch(ctx, req.Scope, func(s *session.State) { s.SetPendingAction(pa) })
	if err != nil {
		return nil, fmt.Errorf("saving pending action: %w", err)
	}
	o.emit(req.TraceID, "pending_created", map[string]any{"pending_id": pa.ID, "type": pa.Action.Type})
	o.logger.Info("pending action created", "scope", req.Scope.Key(), "pending_id", pa.ID, "type", pa.Action.Type, "trace_id", req.TraceID)

	if reply == "" {
		if s := strings.TrimSpace(pa.Action.HumanSummary); s != "" {
			reply = s + "\n\nRevisala y tocá **Confirmar** para ejecutarla."
		} else {
			reply = DefaultDraftReply
		}
	}
	return o.result(req, st, reply, meta), nil
}

func (o *Orchestrator) conflicts(plan planner.Plan) bool {
	if plan.Conflict() {
		return true
	}
	return o.cfg.ConflictPhraseFallback && conflictPhrase.MatchString(plan.Text())
}

func (o *Orchestrator) noOpReply(ctx context.Context, p *catalog.Product, a action.Action) (string, error) {
	regular, sale, err := o.catalog.PriceDisplay(ctx, p)
	if err != nil {
		return "", fmt.Errorf("loading current price: %w", err)
	}

	msg := fmt.Sprintf("Listo: el producto #%d **ya tiene** ese precio.", p.ID)
	if p.IsVariable() {
		msg = "Listo: este producto es **variable** y sus variaciones **ya tienen** ese precio."
	}

	var extras []string
	if _, ok := a.Changes[action.FieldRegularPrice]; ok {
		extras = append(extras, "Precio actual: **$"+displayPrice(p, regular)+"**")
	}
	if _, ok := a.Changes[action.FieldSalePrice]; ok {
		extras = append(extras, "Oferta actual: **$"+displayPrice(p, sale)+"**")
	}
	if len(extras) > 0 {
		msg += " (" + strings.Join(extras, " · ") + ")"
	}
	return msg + "\n\nSi querés, puedo ayudarte a cambiarlo a otro valor, ajustar **oferta**, **stock** o **variaciones**.", nil
}

func (o *Orchestrator) result(req TurnRequest, st *session.State, reply string, meta Meta) *TurnResult {
	meta.TraceID = req.TraceID
	o.emit(req.TraceID, "chat_out", map[string]any{"outcome": meta.Outcome, "phase": st.Phase()})
	return &TurnResult{Reply: reply, State: st, Meta: meta}
}

func (o *Orchestrator) emit(traceID, event string, data any) {
	if o.tracer != nil {
		o.tracer.Emit(traceID, event, data)
	}
}

func contextLite(st *session.State) planner.ContextLite {
	lite := planner.ContextLite{
		Summary:     st.Summary,
		FocusEntity: st.FocusEntity,
		HasPending:  st.PendingAction != nil,
		LastResults: st.LastResults,
	}
	if st.PendingAction != nil {
		lite.PendingSummary = st.PendingAction.Action.HumanSummary
	}
	return lite
}

func displayPrice(p *catalog.Product, v string) string {
	if p.IsVariable() {
		return v
	}
	return normalize.PriceForCompare(v)
}

func selectorReply(changes map[string]string) string {
	msg := "Este producto es **variable**. Elegí a qué variaciones querés aplicar el cambio."
	rp := normalize.PriceForCompare(changes[action.FieldRegularPrice])
	sp := normalize.PriceForCompare(changes[action.FieldSalePrice])
	switch {
	case rp != "" && sp != "":
		msg += "\n\nCambio propuesto: **Precio $" + rp + "** y **Oferta $" + sp + "**."
	case rp != "":
		msg += "\n\nCambio propuesto: **Precio $" + rp + "**."
	case sp != "":
		msg += "\n\nCambio propuesto: **Oferta $" + sp + "**."
	}
	return msg + "\n\nUsá la tarjeta para **seleccionar variaciones** y tocá *Aplicar a seleccionadas* (o *Aplicar a todas*). Después te voy a pedir confirmación con el botón."
}

func variationCandidates(vs []catalog.Variation) []session.Candidate {
	out := make([]session.Candidate, 0, len(vs))
	for _, v := range vs {
		out = append(out, session.Candidate{
			ID:           v.ID,
			Label:        v.Label,
			Attributes:   v.Attributes,
			RegularPrice: v.RegularPrice,
			SalePrice:    v.SalePrice,
			StockStatus:  v.StockStatus,
		})
	}
	return out
}

func reaskReply(pq *session.PendingQuestion, missing []string) string {
	if q := strings.TrimSpace(pq.Question); q != "" {
		return q
	}
	return missingReply(missing)
}

func missingReply(missing []string) string {
	if len(missing) == 0 {
		return "¿Me das un poco más de detalle?"
	}
	return "Me falta un dato para seguir: " + strings.Join(missing, ", ") + "."
}
