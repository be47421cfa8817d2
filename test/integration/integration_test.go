package integration_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpggio/shopbrain/internal/client"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/testserver"
)

// scriptedPlanner answers with the first reply whose key appears in the
// message of the user prompt. History is ignored.
type scriptedPlanner struct {
	mu      sync.Mutex
	replies map[string]string
	calls   int
}

func (p *scriptedPlanner) CreateChatCompletion(_ context.Context, req *planner.ChatCompletionRequest) (*planner.ChatCompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	prompt := req.Messages[len(req.Messages)-1].Content
	if i := strings.LastIndex(prompt, `"message":`); i >= 0 {
		prompt = prompt[i:]
	}
	content := `{"kind":"answer","reply":"No entendí."}`
	for key, reply := range p.replies {
		if strings.Contains(prompt, key) {
			content = reply
			break
		}
	}
	return &planner.ChatCompletionResponse{Choices: []planner.Choice{{Message: planner.Message{Role: "assistant", Content: content}}}}, nil
}

func seedCatalog(t *testing.T, ts *testserver.TestServer) {
	t.Helper()
	ts.AddProducts(t,
		catalog.Product{ID: 10, Type: catalog.TypeSimple, Name: "Remera lisa blanca", SKU: "REM-01", RegularPrice: "1000"},
		catalog.Product{ID: 20, Type: catalog.TypeVariable, Name: "Buzo canguro"},
		catalog.Product{ID: 21, ParentID: 20, Type: catalog.TypeVariation, Name: "Buzo canguro - S", RegularPrice: "3000", Attributes: map[string]string{"talle": "S"}},
		catalog.Product{ID: 22, ParentID: 20, Type: catalog.TypeVariation, Name: "Buzo canguro - M", RegularPrice: "3000", Attributes: map[string]string{"talle": "M"}},
	)
}

func newEnv(t *testing.T, opts testserver.Options) (*testserver.TestServer, *client.Client) {
	t.Helper()
	if opts.Planner == nil {
		opts.Planner = &scriptedPlanner{replies: map[string]string{
			"remera 10 a 1500": `{"kind":"draft_action","reply":"Te preparo el cambio.","action":{"type":"update_product","product_id":10,"changes":{"price":1500}}}`,
			"remera 10 a 1000": `{"kind":"draft_action","reply":"ok","action":{"type":"update_product","product_id":10,"changes":{"price":"1000"}}}`,
			"buzo a 3500":      `{"kind":"draft_action","reply":"ok","action":{"type":"update_product","product_id":20,"changes":{"price":3500}}}`,
			"remera 10 a 2000": `{"kind":"draft_action","reply":"Te preparo el cambio.","action":{"type":"update_product","product_id":10,"changes":{"price":2000}}}`,
			"qué producto":     `{"kind":"question","reply":"¿De qué producto?","missing":["product_id"]}`,
		}}
	}
	ts := testserver.NewWithOptions(t, "secret", "7", opts)
	seedCatalog(t, ts)
	return ts, client.New(ts.Server.URL, ts.Token, client.WithTab("t1", "1"))
}

func regularPrice(t *testing.T, ts *testserver.TestServer, id int64) string {
	t.Helper()
	p, err := ts.App.Products.Get(context.Background(), id)
	require.NoError(t, err)
	return p.RegularPrice
}

func TestSimplePriceChange_OnlyConfirmExecutes(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{})
	ctx := context.Background()

	resp, err := c.Chat(ctx, "subí la remera 10 a 1500")
	require.NoError(t, err)
	require.Equal(t, "Te preparo el cambio.", resp.Reply)
	require.Equal(t, session.PhaseAwaitingConfirmation, c.State().Phase())
	require.NotEmpty(t, resp.Meta.TraceID)

	// Typed confirmation never executes.
	resp, err = c.Chat(ctx, "dale")
	require.NoError(t, err)
	require.Equal(t, orchestrator.UseConfirmButtonReply, resp.Reply)
	require.Equal(t, "1000", regularPrice(t, ts, 10))

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, confirmation.ModeSingle, res.Mode)
	require.Equal(t, "1500", res.Applied["regular_price"])
	require.Equal(t, "1500", regularPrice(t, ts, 10))
	require.Equal(t, session.PhaseIdle, c.State().Phase())

	_, err = c.Confirm(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "no_pending", apiErr.Code)
	require.Equal(t, "1500", regularPrice(t, ts, 10))
}

func TestNoOpDoesNotCreatePendingAction(t *testing.T) {
	_, c := newEnv(t, testserver.Options{})

	resp, err := c.Chat(context.Background(), "poné la remera 10 a 1000")
	require.NoError(t, err)
	require.True(t, resp.Meta.ShouldClearPending)
	require.Contains(t, resp.Reply, "ya tiene")
	require.Nil(t, c.State().PendingAction)
}

func TestVariableProduct_SelectThenConfirm(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{})
	ctx := context.Background()

	_, err := c.Chat(ctx, "subí el buzo a 3500")
	require.NoError(t, err)
	sel := c.State().PendingTargetSelection
	require.NotNil(t, sel)
	require.Equal(t, session.SelectorVariation, sel.Kind)
	require.Len(t, sel.Candidates, 2)

	reply, err := c.ApplyVariations(ctx, []int64{21, 999}, false)
	require.NoError(t, err)
	require.NotEmpty(t, reply.Reply)
	require.Equal(t, session.PhaseAwaitingConfirmation, c.State().Phase())

	res, err := c.Confirm(ctx)
	require.NoError(t, err)
	require.Equal(t, confirmation.ModeUpdateVariations, res.Mode)
	require.Equal(t, 1, res.VariationsUpdated)
	require.Equal(t, "3500", regularPrice(t, ts, 21))
	require.Equal(t, "3000", regularPrice(t, ts, 22))
}

func TestNewDraftWhilePending_ReplaceOnlyOnChoice(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{})
	ctx := context.Background()

	_, err := c.Chat(ctx, "subí la remera 10 a 1500")
	require.NoError(t, err)
	first := c.State().PendingAction
	require.NotNil(t, first)

	resp, err := c.Chat(ctx, "cambiá el precio, qué producto era")
	require.NoError(t, err)
	require.Equal(t, "¿De qué producto?", resp.Reply)
	require.Equal(t, first.ID, c.State().PendingAction.ID)
	require.Nil(t, c.State().PendingQuestion)

	resp, err = c.Chat(ctx, "poné la remera 10 a 2000")
	require.NoError(t, err)
	require.NotNil(t, resp.Meta.PendingChoice)
	require.Equal(t, first.ID, c.State().PendingAction.ID)
	require.Equal(t, "1500", c.State().PendingAction.Action.Changes["regular_price"])

	replayed, err := c.ChoosePending(ctx, *resp.Meta.PendingChoice, true)
	require.NoError(t, err)
	require.NotNil(t, replayed)
	second := c.State().PendingAction
	require.NotNil(t, second)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, "2000", second.Action.Changes["regular_price"])
	require.Equal(t, "1000", regularPrice(t, ts, 10))
}

func TestCancelClearsPending(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{})
	ctx := context.Background()

	_, err := c.Chat(ctx, "subí la remera 10 a 1500")
	require.NoError(t, err)

	res, err := c.Cancel(ctx)
	require.NoError(t, err)
	require.Equal(t, confirmation.CancelReply, res.Cancel.Reply)
	require.True(t, res.Cancel.Meta.ShouldClearPending)
	require.Nil(t, res.Flushed)
	require.Equal(t, session.PhaseIdle, c.State().Phase())
	require.Equal(t, "1000", regularPrice(t, ts, 10))
}

func TestExecutorDisabledKeepsPending(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{ExecutorDisabled: true})
	ctx := context.Background()

	_, err := c.Chat(ctx, "subí la remera 10 a 1500")
	require.NoError(t, err)
	pendingID := c.State().PendingAction.ID

	_, err = c.Confirm(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	require.Equal(t, "agent_missing", apiErr.Code)
	require.NotNil(t, apiErr.StoreState)
	require.Equal(t, pendingID, c.State().PendingAction.ID)
	require.Equal(t, "1000", regularPrice(t, ts, 10))
}

func TestScopesAreIsolated(t *testing.T) {
	ts, c := newEnv(t, testserver.Options{})
	ctx := context.Background()

	_, err := c.Chat(ctx, "subí la remera 10 a 1500")
	require.NoError(t, err)

	other := client.New(ts.Server.URL, ts.Token, client.WithTab("t2", "1"))
	_, err = other.Confirm(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "no_pending", apiErr.Code)

	require.NoError(t, ts.AddAPIKey("other-secret", "8"))
	otherUser := client.New(ts.Server.URL, "other-secret", client.WithTab("t1", "1"))
	_, err = otherUser.Confirm(ctx)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "no_pending", apiErr.Code)

	require.Equal(t, "1000", regularPrice(t, ts, 10))
}

func TestUnauthorized(t *testing.T) {
	ts, _ := newEnv(t, testserver.Options{})

	c := client.New(ts.Server.URL, "wrong")
	_, err := c.Chat(context.Background(), "hola")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestProductSearch(t *testing.T) {
	_, c := newEnv(t, testserver.Options{})

	res, err := c.Search(context.Background(), "remera", 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, int64(10), res.Items[0].ID)

	res, err = c.Search(context.Background(), "#20", 1)
	require.NoError(t, err)
	require.Equal(t, int64(20), res.Items[0].ID)
}
