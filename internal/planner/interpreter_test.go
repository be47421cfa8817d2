package planner_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/testutil"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	replies []string
	err     error
	reqs    []*planner.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req *planner.ChatCompletionRequest) (*planner.ChatCompletionResponse, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	content := ""
	if len(s.replies) > 0 {
		content, s.replies = s.replies[0], s.replies[1:]
	}
	return &planner.ChatCompletionResponse{Choices: []planner.Choice{{Message: planner.Message{Role: "assistant", Content: content}}}}, nil
}

func TestInterpreter_Unavailable(t *testing.T) {
	in := planner.NewInterpreter(nil, planner.Config{}, nil)
	p := in.Plan(context.Background(), "hola", planner.ContextLite{}, nil)

	a, ok := p.(planner.Answer)
	require.True(t, ok)
	require.True(t, a.Fallback)
	require.Equal(t, planner.UnavailableReply, a.Text())
}

func TestInterpreter_RetriesOnceThenFallsBack(t *testing.T) {
	stub := &stubCompleter{replies: []string{"nope", "still nope"}}
	in := planner.NewInterpreter(stub, planner.Config{}, nil)

	p := in.Plan(context.Background(), "hola", planner.ContextLite{}, nil)
	require.Equal(t, planner.KindAnswer, p.Kind())
	require.Equal(t, planner.FallbackReply, p.Text())
	require.Len(t, stub.reqs, 2)
	require.True(t, strings.HasSuffix(stub.reqs[1].Messages[1].Content, "Devolvé SOLO JSON válido, sin texto extra."))
	require.False(t, strings.Contains(stub.reqs[0].Messages[1].Content, "Devolvé SOLO JSON"))
}

func TestInterpreter_RetrySucceeds(t *testing.T) {
	stub := &stubCompleter{replies: []string{"nope", `{"kind":"answer","reply":"Hola!"}`}}
	in := planner.NewInterpreter(stub, planner.Config{}, nil)

	p := in.Plan(context.Background(), "hola", planner.ContextLite{}, nil)
	require.Equal(t, "Hola!", p.Text())
}

func TestInterpreter_TransportErrorFallsBack(t *testing.T) {
	stub := &stubCompleter{err: errors.New("connection refused")}
	in := planner.NewInterpreter(stub, planner.Config{}, nil)

	p := in.Plan(context.Background(), "hola", planner.ContextLite{}, nil)
	require.Equal(t, planner.FallbackReply, p.Text())
	require.Len(t, stub.reqs, 2)
}

func TestInterpreter_SendsTemperatureAndLastTenTurns(t *testing.T) {
	stub := &stubCompleter{replies: []string{`{"kind":"answer","reply":"ok"}`}}
	in := planner.NewInterpreter(stub, planner.Config{Model: "test-model"}, nil)

	history := make([]planner.Turn, 0, 15)
	for i := 0; i < 15; i++ {
		history = append(history, planner.Turn{Role: "user", Content: "turno-" + string(rune('a'+i))})
	}
	in.Plan(context.Background(), "hola", planner.ContextLite{HasPending: true}, history)

	req := stub.reqs[0]
	require.Equal(t, "test-model", req.Model)
	require.NotNil(t, req.Temperature)
	require.InDelta(t, 0.2, *req.Temperature, 0.0001)
	user := req.Messages[1].Content
	require.NotContains(t, user, "turno-e")
	require.Contains(t, user, "turno-f")
	require.Contains(t, user, "turno-o")
	require.Contains(t, user, `"has_pending":true`)
}

func TestInterpreter_TokenBudgetDropsOldestTurns(t *testing.T) {
	stub := &stubCompleter{replies: []string{`{"kind":"answer","reply":"ok"}`}}
	in := planner.NewInterpreter(stub, planner.Config{MaxHistoryTokens: 40}, nil)

	history := []planner.Turn{
		{Role: "user", Content: "primero " + strings.Repeat("palabra ", 60)},
		{Role: "assistant", Content: "último corto"},
	}
	in.Plan(context.Background(), "hola", planner.ContextLite{}, history)

	user := stub.reqs[0].Messages[1].Content
	require.NotContains(t, user, "primero")
	require.Contains(t, user, "último corto")
}

func TestInterpreter_ReplaysDraftAction(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "planner_draft_action")
	client := planner.NewClient("test-key", planner.WithHTTPClient(testutil.VCRHTTPClient(rec)))
	in := planner.NewInterpreter(client, planner.Config{}, nil)

	p := in.Plan(context.Background(), "subí el precio del producto 42 a 1500", planner.ContextLite{}, nil)
	d, ok := p.(planner.DraftAction)
	require.True(t, ok, "got %T", p)
	require.Equal(t, action.ID(42), d.Action.ProductID)

	n := action.Normalize(d.Action)
	require.Equal(t, "1500", n.Changes["regular_price"])
}

func TestInterpreter_ReplaysRetry(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "planner_retry")
	client := planner.NewClient("test-key", planner.WithHTTPClient(testutil.VCRHTTPClient(rec)))
	in := planner.NewInterpreter(client, planner.Config{}, nil)

	p := in.Plan(context.Background(), "cambiá el precio", planner.ContextLite{}, nil)
	q, ok := p.(planner.Question)
	require.True(t, ok, "got %T", p)
	require.Equal(t, []string{"product_id"}, q.Missing)
}

func TestClient_APIError(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "planner_unauthorized")
	client := planner.NewClient("bad-key", planner.WithHTTPClient(testutil.VCRHTTPClient(rec)))

	_, err := client.CreateChatCompletion(context.Background(), &planner.ChatCompletionRequest{Model: "gpt-4o-mini"})
	var apiErr *planner.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.StatusCode)
	require.Equal(t, "invalid_api_key", apiErr.Code)
}
