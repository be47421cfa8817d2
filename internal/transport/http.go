package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rpggio/shopbrain/internal/domain/brainerr"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/trace"
)

const maxBodyBytes = 1 << 20

// ChatHandler runs one conversational turn.
type ChatHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// Confirmer owns every path that executes or discards pending actions.
type Confirmer interface {
	Confirm(ctx context.Context, scope session.Scope, requestedID, traceID string) (*confirmation.Result, error)
	Cancel(ctx context.Context, scope session.Scope, traceID string) (*confirmation.Reply, error)
	ApplyVariations(ctx context.Context, scope session.Scope, selectedIDs []int64, applyAll bool, traceID string) (*confirmation.Reply, error)
}

// StateReader loads conversation state.
type StateReader interface {
	Get(ctx context.Context, scope session.Scope) (*session.State, error)
}

// ProductCatalog serves the selector data.
type ProductCatalog interface {
	Search(ctx context.Context, q string, page, perPage int) (*catalog.SearchResult, error)
	Summary(ctx context.Context, id int64) (*catalog.Summary, error)
	Variations(ctx context.Context, productID int64, limit, offset int) (*catalog.VariationPage, error)
}

// TraceReader exposes recorded trace events.
type TraceReader interface {
	Buffer(traceID string) []trace.Event
	Excerpt(traceIDs []string, maxLines, maxBytes int) (*trace.Excerpt, error)
	Tail(maxLines int) (*trace.Excerpt, error)
}

// Services are the handlers behind the /brain routes.
type Services struct {
	Chat    ChatHandler
	Confirm Confirmer
	States  StateReader
	Catalog ProductCatalog
	Traces  TraceReader
}

// Server wires HTTP handlers.
type Server struct {
	svc    Services
	logger *slog.Logger
}

// NewServer creates the router. authMiddleware guards /brain and must put a
// user in the request context; cmd/server mounts /mcp on the result.
func NewServer(svc Services, authMiddleware func(http.Handler) http.Handler, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(TraceMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "shopbrain")
	})

	srv := &Server{svc: svc, logger: logger}

	r.Get("/health", srv.handleHealth)

	r.Route("/brain", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Post("/chat", srv.handleChat)
		r.Post("/confirm", srv.handleConfirm)
		r.Post("/pending/clear", srv.handlePendingClear)
		r.Post("/variations/apply", srv.handleVariationsApply)
		r.Get("/debug", srv.handleDebug)
		r.Get("/trace/excerpt", srv.handleTraceExcerpt)
		r.Get("/trace/tail", srv.handleTraceTail)
		r.Get("/products/search", srv.handleProductSearch)
		r.Get("/products/{id}/summary", srv.handleProductSummary)
		r.Get("/products/{id}/variations", srv.handleProductVariations)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type chatRequest struct {
	scopeFields
	Message string         `json:"message"`
	History []planner.Turn `json:"history"`
}

type chatResponse struct {
	OK         bool              `json:"ok"`
	Reply      string            `json:"reply"`
	StoreState session.State     `json:"store_state"`
	Meta       orchestrator.Meta `json:"meta"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope := scopeFromRequest(r, req.scopeFields)
	if strings.TrimSpace(req.Message) == "" {
		s.fail(w, r, scope, badRequest("empty_message", "Escribí un mensaje."))
		return
	}

	res, err := s.svc.Chat.HandleTurn(r.Context(), orchestrator.TurnRequest{
		Scope:   scope,
		Message: req.Message,
		History: req.History,
		TraceID: trace.IDFromContext(r.Context()),
	})
	if err != nil {
		s.fail(w, r, scope, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		OK:         true,
		Reply:      res.Reply,
		StoreState: session.SanitizeForDebug(res.State),
		Meta:       res.Meta,
	})
}

type confirmRequest struct {
	scopeFields
	PendingActionID string `json:"pending_action_id"`
}

type confirmResponse struct {
	*confirmation.Result
	TraceID    string        `json:"trace_id"`
	StoreState session.State `json:"store_state"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope := scopeFromRequest(r, req.scopeFields)

	res, err := s.svc.Confirm.Confirm(r.Context(), scope, strings.TrimSpace(req.PendingActionID), trace.IDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, scope, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		Result:     res,
		TraceID:    trace.IDFromContext(r.Context()),
		StoreState: session.SanitizeForDebug(res.State),
	})
}

type replyMeta struct {
	TraceID            string `json:"trace_id"`
	ShouldClearPending bool   `json:"should_clear_pending,omitempty"`
}

type replyResponse struct {
	OK         bool          `json:"ok"`
	Reply      string        `json:"reply"`
	StoreState session.State `json:"store_state"`
	Meta       replyMeta     `json:"meta"`
}

func (s *Server) handlePendingClear(w http.ResponseWriter, r *http.Request) {
	var req scopeFields
	if !s.decode(w, r, &req) {
		return
	}
	scope := scopeFromRequest(r, req)

	res, err := s.svc.Confirm.Cancel(r.Context(), scope, trace.IDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, scope, err)
		return
	}
	s.writeReply(w, r, res)
}

type applyRequest struct {
	scopeFields
	SelectedIDs []json.Number `json:"selected_ids"`
	ApplyAll    bool          `json:"apply_all"`
}

func (s *Server) handleVariationsApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope := scopeFromRequest(r, req.scopeFields)

	ids := make([]int64, 0, len(req.SelectedIDs))
	for _, n := range req.SelectedIDs {
		if id, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}

	res, err := s.svc.Confirm.ApplyVariations(r.Context(), scope, ids, req.ApplyAll, trace.IDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, scope, err)
		return
	}
	s.writeReply(w, r, res)
}

func (s *Server) writeReply(w http.ResponseWriter, r *http.Request, res *confirmation.Reply) {
	writeJSON(w, http.StatusOK, replyResponse{
		OK:         true,
		Reply:      res.Reply,
		StoreState: session.SanitizeForDebug(res.State),
		Meta: replyMeta{
			TraceID:            trace.IDFromContext(r.Context()),
			ShouldClearPending: res.ShouldClearPending,
		},
	})
}

type debugResponse struct {
	OK          bool          `json:"ok"`
	TraceID     string        `json:"trace_id"`
	Level       string        `json:"level"`
	Phase       session.Phase `json:"phase"`
	StoreState  session.State `json:"store_state"`
	TraceEvents []trace.Event `json:"trace_events,omitempty"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r, scopeFields{})
	st, err := s.svc.States.Get(r.Context(), scope)
	if err != nil {
		s.fail(w, r, scope, err)
		return
	}

	level := r.URL.Query().Get("level")
	if level != "full" {
		level = "lite"
	}
	out := debugResponse{
		OK:      true,
		TraceID: trace.IDFromContext(r.Context()),
		Level:   level,
		Phase:   st.Phase(),
	}
	if level == "full" {
		out.StoreState = *st
		id := r.URL.Query().Get("trace_id")
		if id == "" {
			id = out.TraceID
		}
		out.TraceEvents = s.svc.Traces.Buffer(id)
	} else {
		out.StoreState = session.SanitizeForDebug(st)
	}
	writeJSON(w, http.StatusOK, out)
}

type excerptResponse struct {
	OK      bool   `json:"ok"`
	TraceID string `json:"trace_id"`
	*trace.Excerpt
}

func (s *Server) handleTraceExcerpt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []string
	for _, raw := range q["trace_id"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		s.fail(w, r, session.Scope{}, badRequest("missing_trace_id", "Falta trace_id."))
		return
	}

	ex, err := s.svc.Traces.Excerpt(ids, queryInt(r, "max_lines", 0), queryInt(r, "max_bytes", 0))
	if err != nil {
		s.fail(w, r, session.Scope{}, traceError(err))
		return
	}
	writeJSON(w, http.StatusOK, excerptResponse{OK: true, TraceID: trace.IDFromContext(r.Context()), Excerpt: ex})
}

func (s *Server) handleTraceTail(w http.ResponseWriter, r *http.Request) {
	ex, err := s.svc.Traces.Tail(queryInt(r, "max_lines", 0))
	if err != nil {
		s.fail(w, r, session.Scope{}, traceError(err))
		return
	}
	writeJSON(w, http.StatusOK, excerptResponse{OK: true, TraceID: trace.IDFromContext(r.Context()), Excerpt: ex})
}

type searchResponse struct {
	OK      bool   `json:"ok"`
	TraceID string `json:"trace_id"`
	*catalog.SearchResult
}

func (s *Server) handleProductSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Catalog.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "page", 1), queryInt(r, "per_page", 0))
	if err != nil {
		s.fail(w, r, session.Scope{}, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{OK: true, TraceID: trace.IDFromContext(r.Context()), SearchResult: res})
}

type summaryResponse struct {
	OK      bool             `json:"ok"`
	TraceID string           `json:"trace_id"`
	Product *catalog.Summary `json:"product"`
}

func (s *Server) handleProductSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	sum, err := s.svc.Catalog.Summary(r.Context(), id)
	if err != nil {
		s.fail(w, r, session.Scope{}, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{OK: true, TraceID: trace.IDFromContext(r.Context()), Product: sum})
}

type variationsResponse struct {
	OK      bool   `json:"ok"`
	TraceID string `json:"trace_id"`
	*catalog.VariationPage
}

func (s *Server) handleProductVariations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	page, err := s.svc.Catalog.Variations(r.Context(), id, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, session.Scope{}, err)
		return
	}
	writeJSON(w, http.StatusOK, variationsResponse{OK: true, TraceID: trace.IDFromContext(r.Context()), VariationPage: page})
}

func (s *Server) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, session.Scope{}, badRequest("missing_id", "Missing id"))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, scopeFromRequest(r, scopeFields{}), badRequest("bad_request", "JSON inválido."))
		return false
	}
	return true
}

type errorResponse struct {
	OK         bool           `json:"ok"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	TraceID    string         `json:"trace_id"`
	StoreState *session.State `json:"store_state,omitempty"`
}

// fail writes the error envelope. The current state of scope is attached
// when it can be loaded so clients can resync after a failure.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, scope session.Scope, err error) {
	be := MapError(err)
	traceID := trace.IDFromContext(r.Context())
	if be.HTTPStatus() >= http.StatusInternalServerError {
		s.logger.Error("request failed", "trace_id", traceID, "code", be.Code, "error", err)
	}

	out := errorResponse{Code: be.Code, Message: be.Message, TraceID: traceID}
	if scope.UserID != "" && s.svc.States != nil {
		if st, stErr := s.svc.States.Get(r.Context(), scope); stErr == nil {
			clean := session.SanitizeForDebug(st)
			out.StoreState = &clean
		}
	}
	writeJSON(w, be.HTTPStatus(), out)
}

// MapError converts domain errors to the brain error taxonomy.
func MapError(err error) *brainerr.Error {
	switch {
	case errors.Is(err, session.ErrInvalidScope):
		return &brainerr.Error{Code: "unauthorized", Status: http.StatusUnauthorized, Message: "Sesión inválida.", Err: err}
	case errors.Is(err, catalog.ErrProductNotFound):
		return brainerr.NotFound("Not found").WithCause(err)
	case errors.Is(err, catalog.ErrInvalidInput):
		return badRequest("invalid_input", "Parámetros inválidos.").WithCause(err)
	}
	return brainerr.As(err)
}

func badRequest(code, message string) *brainerr.Error {
	return &brainerr.Error{Kind: brainerr.KindUserInputAmbiguous, Code: code, Status: http.StatusBadRequest, Message: message}
}

func traceError(err error) error {
	if errors.Is(err, trace.ErrNoTraceFile) {
		return &brainerr.Error{Code: "trace_disabled", Status: http.StatusNotFound, Message: "El log de trazas no está habilitado.", Err: err}
	}
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
