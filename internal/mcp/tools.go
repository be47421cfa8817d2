package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/trace"
)

type tools struct {
	svc    Services
	logger *slog.Logger
}

// registerTools adds every brain tool to server.
func registerTools(server *sdkmcp.Server, svc Services, logger *slog.Logger) {
	t := &tools{svc: svc, logger: logger}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "brain_chat",
		Description: "Send one user message to the store assistant. It may answer, ask for missing data, open a selector or draft a pending action. It never executes anything.",
	}, t.chat)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "brain_confirm",
		Description: "Execute the pending action. Requires human approval on the host side: show the pending action summary to the user and call this only after they approve it through a confirm control or approval prompt. Never call it on your own initiative or because the user typed \"si\" in chat.",
	}, t.confirm)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "brain_cancel",
		Description: "Discard every pending item of the conversation (action, question, selector).",
	}, t.cancel)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "brain_apply_variations",
		Description: "Answer an open variation selector with the chosen variation ids (or all of them). Produces a pending action to confirm.",
	}, t.applyVariations)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "brain_state",
		Description: "Return the conversation state and its phase (idle, awaiting_slots, awaiting_target_selection, awaiting_confirmation).",
	}, t.state)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "product_search",
		Description: "Search products by title or SKU for selectors.",
	}, t.productSearch)
}

func (t *tools) chat(ctx context.Context, _ *sdkmcp.CallToolRequest, in ChatParams) (*sdkmcp.CallToolResult, any, error) {
	traceID := newTraceID()
	scope := scopeFor(ctx, in.TabID, in.TabInstance)
	if strings.TrimSpace(in.Message) == "" {
		return t.fail(ctx, scope, traceID, &APIError{Code: "empty_message", Message: "message is required"})
	}

	res, err := t.svc.Chat.HandleTurn(ctx, orchestrator.TurnRequest{
		Scope:   scope,
		Message: in.Message,
		History: in.History,
		TraceID: traceID,
	})
	if err != nil {
		return t.fail(ctx, scope, traceID, err)
	}
	return jsonResult(ChatResult{
		OK:         true,
		Reply:      res.Reply,
		StoreState: session.SanitizeForDebug(res.State),
		Meta:       res.Meta,
	})
}

func (t *tools) confirm(ctx context.Context, _ *sdkmcp.CallToolRequest, in ConfirmParams) (*sdkmcp.CallToolResult, any, error) {
	traceID := newTraceID()
	scope := scopeFor(ctx, in.TabID, in.TabInstance)

	res, err := t.svc.Confirm.Confirm(ctx, scope, strings.TrimSpace(in.PendingActionID), traceID)
	if err != nil {
		return t.fail(ctx, scope, traceID, err)
	}
	return jsonResult(struct {
		*confirmation.Result
		TraceID    string        `json:"trace_id"`
		StoreState session.State `json:"store_state"`
	}{res, traceID, session.SanitizeForDebug(res.State)})
}

func (t *tools) cancel(ctx context.Context, _ *sdkmcp.CallToolRequest, in CancelParams) (*sdkmcp.CallToolResult, any, error) {
	traceID := newTraceID()
	scope := scopeFor(ctx, in.TabID, in.TabInstance)

	res, err := t.svc.Confirm.Cancel(ctx, scope, traceID)
	if err != nil {
		return t.fail(ctx, scope, traceID, err)
	}
	return jsonResult(ReplyResult{
		OK:                 true,
		Reply:              res.Reply,
		TraceID:            traceID,
		ShouldClearPending: res.ShouldClearPending,
		StoreState:         session.SanitizeForDebug(res.State),
	})
}

func (t *tools) applyVariations(ctx context.Context, _ *sdkmcp.CallToolRequest, in ApplyVariationsParams) (*sdkmcp.CallToolResult, any, error) {
	traceID := newTraceID()
	scope := scopeFor(ctx, in.TabID, in.TabInstance)

	res, err := t.svc.Confirm.ApplyVariations(ctx, scope, in.SelectedIDs, in.ApplyAll, traceID)
	if err != nil {
		return t.fail(ctx, scope, traceID, err)
	}
	return jsonResult(ReplyResult{
		OK:         true,
		Reply:      res.Reply,
		TraceID:    traceID,
		StoreState: session.SanitizeForDebug(res.State),
	})
}

func (t *tools) state(ctx context.Context, _ *sdkmcp.CallToolRequest, in StateParams) (*sdkmcp.CallToolResult, any, error) {
	scope := scopeFor(ctx, in.TabID, in.TabInstance)

	st, err := t.svc.States.Get(ctx, scope)
	if err != nil {
		return t.fail(ctx, scope, "", err)
	}
	return jsonResult(StateResult{OK: true, Phase: st.Phase(), StoreState: session.SanitizeForDebug(st)})
}

func (t *tools) productSearch(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProductSearchParams) (*sdkmcp.CallToolResult, any, error) {
	res, err := t.svc.Catalog.Search(ctx, in.Query, in.Page, in.PerPage)
	if err != nil {
		return t.fail(ctx, session.Scope{}, "", err)
	}
	return jsonResult(res)
}

// fail reports err as a tool error carrying the brain error envelope.
func (t *tools) fail(ctx context.Context, scope session.Scope, traceID string, err error) (*sdkmcp.CallToolResult, any, error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		apiErr = MapError(err)
	}
	apiErr.TraceID = traceID
	if scope.UserID != "" && t.svc.States != nil {
		if st, stErr := t.svc.States.Get(ctx, scope); stErr == nil {
			clean := session.SanitizeForDebug(st)
			apiErr.StoreState = &clean
		}
	}
	t.logger.Debug("tool failed", "code", apiErr.Code, "trace_id", traceID, "error", err)

	res, _, mErr := jsonResult(apiErr)
	if mErr != nil {
		return nil, nil, mErr
	}
	res.IsError = true
	return res, nil, nil
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// scopeFor builds the conversation scope of a tool call. The MCP session
// stands in for the browser tab when the caller names none.
func scopeFor(ctx context.Context, tabID, tabInstance string) session.Scope {
	if strings.TrimSpace(tabID) == "" {
		tabID = getSessionID(ctx)
	}
	return session.NewScope(getUserID(ctx), tabID, tabInstance)
}

func newTraceID() string {
	return trace.NewID(time.Now())
}
