package testserver

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpggio/shopbrain/internal/app"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/sqlite"
	"github.com/rpggio/shopbrain/internal/transport"
)

type TestServer struct {
	Server *httptest.Server
	DB     *sqlite.DB
	App    *app.App
	Token  string
	UserID string
}

// Options tunes the stack under test.
type Options struct {
	Planner          planner.Completer
	ExecutorDisabled bool
}

func New(t *testing.T, token, userID string) *TestServer {
	return NewWithOptions(t, token, userID, Options{})
}

func NewWithOptions(t *testing.T, token, userID string, opts Options) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	a, err := app.New(app.Options{
		DB:              db,
		Planner:         opts.Planner,
		ExecutorEnabled: !opts.ExecutorDisabled,
		AuthEnabled:     true,
		TransportMode:   "http",
	})
	require.NoError(t, err)

	server := httptest.NewServer(a.Router)

	ts := &TestServer{
		Server: server,
		DB:     db,
		App:    a,
		Token:  token,
		UserID: userID,
	}

	require.NoError(t, ts.AddAPIKey(token, userID))

	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
		_ = db.Close()
	})

	return ts
}

func (ts *TestServer) AddAPIKey(token, userID string) error {
	return ts.App.APIKeys.Create(context.Background(), transport.HashToken(token), userID, "test")
}

// AddProducts stores products in order, parents before variations.
func (ts *TestServer) AddProducts(t *testing.T, products ...catalog.Product) {
	t.Helper()
	for i := range products {
		require.NoError(t, ts.App.Products.Create(context.Background(), &products[i]))
	}
}
