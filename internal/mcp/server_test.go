package mcp

import (
	"context"
	"encoding/json"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/domain/brainerr"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
)

type chatStub struct {
	handleFn func(context.Context, orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

func (c chatStub) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
	return c.handleFn(ctx, req)
}

type confirmStub struct {
	confirmFn func(context.Context, session.Scope, string, string) (*confirmation.Result, error)
	cancelFn  func(context.Context, session.Scope, string) (*confirmation.Reply, error)
	applyFn   func(context.Context, session.Scope, []int64, bool, string) (*confirmation.Reply, error)
}

func (c confirmStub) Confirm(ctx context.Context, scope session.Scope, requestedID, traceID string) (*confirmation.Result, error) {
	return c.confirmFn(ctx, scope, requestedID, traceID)
}
func (c confirmStub) Cancel(ctx context.Context, scope session.Scope, traceID string) (*confirmation.Reply, error) {
	return c.cancelFn(ctx, scope, traceID)
}
func (c confirmStub) ApplyVariations(ctx context.Context, scope session.Scope, ids []int64, all bool, traceID string) (*confirmation.Reply, error) {
	return c.applyFn(ctx, scope, ids, all, traceID)
}

type stateStub struct {
	getFn func(context.Context, session.Scope) (*session.State, error)
}

func (s stateStub) Get(ctx context.Context, scope session.Scope) (*session.State, error) {
	return s.getFn(ctx, scope)
}

type catalogStub struct {
	searchFn func(context.Context, string, int, int) (*catalog.SearchResult, error)
}

func (c catalogStub) Search(ctx context.Context, q string, page, perPage int) (*catalog.SearchResult, error) {
	return c.searchFn(ctx, q, page, perPage)
}

func pendingState() *session.State {
	st := session.NewState()
	st.SetPendingAction(session.PendingAction{
		ID:     "pa_1",
		Action: action.Action{Type: action.TypeUpdateProduct, ProductID: 10, Changes: map[string]any{"regular_price": "1500"}},
	})
	return st
}

func connect(t *testing.T, cfg Config) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer(cfg)
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any, out any) *sdkmcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "expected text content")
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func TestServer_ListTools(t *testing.T) {
	cs := connect(t, Config{TransportMode: "stdio"})

	require.Equal(t, "shopbrain", cs.InitializeResult().ServerInfo.Name)

	tools, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
		if tool.Name == "brain_confirm" {
			require.Contains(t, tool.Description, "human approval")
		}
	}
	for _, want := range []string{"brain_chat", "brain_confirm", "brain_cancel", "brain_apply_variations", "brain_state", "product_search"} {
		require.True(t, names[want], "missing tool %s", want)
	}
}

func TestServer_ReadDocs(t *testing.T) {
	cs := connect(t, Config{TransportMode: "stdio"})

	res, err := cs.ReadResource(context.Background(), &sdkmcp.ReadResourceParams{URI: "shopbrain://docs/confirmation"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	require.Contains(t, res.Contents[0].Text, "pending_action_id")
	require.Contains(t, res.Contents[0].Text, "requires human approval")
	require.Contains(t, cs.InitializeResult().Instructions, "requires human approval")
}

func TestBrainChat(t *testing.T) {
	var got orchestrator.TurnRequest
	cs := connect(t, Config{
		TransportMode: "stdio",
		DefaultUserID: "7",
		Services: Services{
			Chat: chatStub{handleFn: func(_ context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
				got = req
				return &orchestrator.TurnResult{
					Reply: "¿Confirmás?",
					State: pendingState(),
					Meta:  orchestrator.Meta{TraceID: req.TraceID, PlanKind: "action"},
				}, nil
			}},
		},
	})

	var out ChatResult
	res := callTool(t, cs, "brain_chat", map[string]any{
		"message": "subí la remera a 1500",
		"tab_id":  "tab A!",
	}, &out)

	require.False(t, res.IsError)
	require.True(t, out.OK)
	require.Equal(t, "¿Confirmás?", out.Reply)
	require.NotNil(t, out.StoreState.PendingAction)
	require.Equal(t, "pa_1", out.StoreState.PendingAction.ID)
	require.Equal(t, "action", out.Meta.PlanKind)

	require.Equal(t, session.Scope{UserID: "7", TabID: "tabA", TabInstance: "1"}, got.Scope)
	require.NotEmpty(t, got.TraceID)
	require.Equal(t, got.TraceID, out.Meta.TraceID)
}

func TestBrainChat_EmptyMessage(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Chat: chatStub{handleFn: func(context.Context, orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
				t.Fatal("chat should not run")
				return nil, nil
			}},
			States: stateStub{getFn: func(context.Context, session.Scope) (*session.State, error) {
				return session.NewState(), nil
			}},
		},
	})

	var out APIError
	res := callTool(t, cs, "brain_chat", map[string]any{"message": "  "}, &out)
	require.True(t, res.IsError)
	require.False(t, out.OK)
	require.Equal(t, "empty_message", out.Code)
	require.NotEmpty(t, out.TraceID)
	require.NotNil(t, out.StoreState)
}

func TestBrainChat_DefaultsTabToSession(t *testing.T) {
	var got session.Scope
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Chat: chatStub{handleFn: func(_ context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
				got = req.Scope
				return &orchestrator.TurnResult{Reply: "ok", State: session.NewState()}, nil
			}},
		},
	})

	callTool(t, cs, "brain_chat", map[string]any{"message": "hola"}, nil)
	require.Equal(t, "1", got.UserID)
	require.NotEmpty(t, got.TabID)
}

func TestBrainConfirm(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Confirm: confirmStub{confirmFn: func(_ context.Context, _ session.Scope, id, _ string) (*confirmation.Result, error) {
				require.Equal(t, "pa_1", id)
				return &confirmation.Result{
					OK:        true,
					Mode:      confirmation.ModeSingle,
					ProductID: 10,
					Applied:   map[string]string{"regular_price": "1500"},
					Reply:     confirmation.SuccessReply,
					State:     session.NewState(),
				}, nil
			}},
		},
	})

	var out struct {
		OK         bool              `json:"ok"`
		Mode       string            `json:"mode"`
		ProductID  int64             `json:"product_id"`
		Applied    map[string]string `json:"applied"`
		Reply      string            `json:"reply"`
		TraceID    string            `json:"trace_id"`
		StoreState session.State     `json:"store_state"`
	}
	res := callTool(t, cs, "brain_confirm", map[string]any{"pending_action_id": " pa_1 "}, &out)

	require.False(t, res.IsError)
	require.True(t, out.OK)
	require.Equal(t, confirmation.ModeSingle, out.Mode)
	require.Equal(t, int64(10), out.ProductID)
	require.Equal(t, "1500", out.Applied["regular_price"])
	require.NotEmpty(t, out.TraceID)
	require.Nil(t, out.StoreState.PendingAction)
}

func TestBrainConfirm_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantHint bool
	}{
		{"no pending", brainerr.NoPending(), "no_pending", true},
		{"mismatch", brainerr.PendingMismatch(), "pending_mismatch", true},
		{"executor missing", brainerr.ExecutorUnavailable(), "agent_missing", true},
		{"product gone", catalog.ErrProductNotFound, "not_found", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := connect(t, Config{
				TransportMode: "stdio",
				Services: Services{
					Confirm: confirmStub{confirmFn: func(context.Context, session.Scope, string, string) (*confirmation.Result, error) {
						return nil, tt.err
					}},
					States: stateStub{getFn: func(context.Context, session.Scope) (*session.State, error) {
						return pendingState(), nil
					}},
				},
			})

			var out APIError
			res := callTool(t, cs, "brain_confirm", map[string]any{"pending_action_id": "pa_0"}, &out)
			require.True(t, res.IsError)
			require.Equal(t, tt.wantCode, out.Code)
			require.Equal(t, tt.wantHint, out.RecoveryHint != "")
			require.NotNil(t, out.StoreState)
			require.Equal(t, "pa_1", out.StoreState.PendingAction.ID)
		})
	}
}

func TestBrainCancel(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Confirm: confirmStub{cancelFn: func(context.Context, session.Scope, string) (*confirmation.Reply, error) {
				return &confirmation.Reply{Reply: confirmation.CancelReply, State: session.NewState(), ShouldClearPending: true}, nil
			}},
		},
	})

	var out ReplyResult
	callTool(t, cs, "brain_cancel", nil, &out)
	require.True(t, out.OK)
	require.Equal(t, confirmation.CancelReply, out.Reply)
	require.True(t, out.ShouldClearPending)
}

func TestBrainApplyVariations(t *testing.T) {
	var gotIDs []int64
	var gotAll bool
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Confirm: confirmStub{applyFn: func(_ context.Context, _ session.Scope, ids []int64, all bool, _ string) (*confirmation.Reply, error) {
				gotIDs, gotAll = ids, all
				return &confirmation.Reply{Reply: "listo", State: pendingState()}, nil
			}},
		},
	})

	var out ReplyResult
	callTool(t, cs, "brain_apply_variations", map[string]any{"selected_ids": []int64{21, 22}}, &out)
	require.Equal(t, []int64{21, 22}, gotIDs)
	require.False(t, gotAll)
	require.Equal(t, "listo", out.Reply)
	require.NotNil(t, out.StoreState.PendingAction)
}

func TestBrainState(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			States: stateStub{getFn: func(context.Context, session.Scope) (*session.State, error) {
				return pendingState(), nil
			}},
		},
	})

	var out StateResult
	callTool(t, cs, "brain_state", map[string]any{"tab_id": "t1"}, &out)
	require.True(t, out.OK)
	require.Equal(t, session.PhaseAwaitingConfirmation, out.Phase)
}

func TestProductSearch(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "stdio",
		Services: Services{
			Catalog: catalogStub{searchFn: func(_ context.Context, q string, page, perPage int) (*catalog.SearchResult, error) {
				require.Equal(t, "remera", q)
				require.Equal(t, 2, page)
				return &catalog.SearchResult{Query: q, Page: page, PerPage: 20, Total: 1,
					Items: []catalog.Summary{{ID: 10, Title: "Remera lisa blanca", SKU: "REM-01"}}}, nil
			}},
		},
	})

	var out catalog.SearchResult
	callTool(t, cs, "product_search", map[string]any{"q": "remera", "page": 2}, &out)
	require.Equal(t, 1, out.Total)
	require.Equal(t, int64(10), out.Items[0].ID)
}

func TestServer_AuthRequiredOverHTTP(t *testing.T) {
	cs := connect(t, Config{
		TransportMode: "http",
		AuthEnabled:   true,
		Services: Services{
			States: stateStub{getFn: func(context.Context, session.Scope) (*session.State, error) {
				return session.NewState(), nil
			}},
		},
	})

	// In-memory calls carry no headers.
	_, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: "brain_state"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}
