// Package app wires repositories, domain services and both API surfaces.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/executor"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/mcp"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/sqlite"
	"github.com/rpggio/shopbrain/internal/trace"
	"github.com/rpggio/shopbrain/internal/transport"
)

// Options configures the stack.
type Options struct {
	DB *sqlite.DB
	// Planner is nil when no planner is configured; chat then answers with
	// the unavailable reply.
	Planner         planner.Completer
	PlannerConfig   planner.Config
	ExecutorEnabled bool
	PendingTTL      time.Duration
	Trace           trace.Options
	Orchestrator    orchestrator.Config
	AuthEnabled     bool
	DefaultUserID   string
	TransportMode   string
	Logger          *slog.Logger
}

// App is the assembled stack.
type App struct {
	Router   *chi.Mux
	MCP      *sdkmcp.Server
	Products *sqlite.ProductRepository
	APIKeys  *sqlite.APIKeyRepository
	States   *session.Service
	Traces   *trace.Recorder
}

// New builds every service over opts.DB and mounts /brain and /mcp.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultUserID == "" {
		opts.DefaultUserID = "1"
	}

	productRepo := sqlite.NewProductRepository(opts.DB)
	stateRepo := sqlite.NewStateRepository(opts.DB)
	keyRepo := sqlite.NewAPIKeyRepository(opts.DB)

	traceOpts := opts.Trace
	traceOpts.Logger = logger
	traces, err := trace.NewRecorder(traceOpts)
	if err != nil {
		return nil, fmt.Errorf("opening trace recorder: %w", err)
	}

	var sessionOpts []session.Option
	if opts.PendingTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithPendingTTL(opts.PendingTTL))
	}
	states := session.NewService(stateRepo, logger, sessionOpts...)
	products := catalog.NewService(productRepo, logger)

	interp := planner.NewInterpreter(opts.Planner, opts.PlannerConfig, logger)

	var exec confirmation.Executor
	if opts.ExecutorEnabled {
		exec = executor.New(productRepo, logger)
	}

	chat := orchestrator.New(states, products, interp, traces, opts.Orchestrator, logger)
	confirmer := confirmation.NewService(states, products, exec, traces, logger)

	resolver := &transport.APIKeyResolver{Keys: keyRepo}
	authMiddleware := transport.StaticUserMiddleware(opts.DefaultUserID)
	if opts.AuthEnabled {
		authMiddleware = transport.AuthMiddleware(resolver)
	}

	router := transport.NewServer(transport.Services{
		Chat:    chat,
		Confirm: confirmer,
		States:  states,
		Catalog: products,
		Traces:  traces,
	}, authMiddleware, logger)

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Chat:    chat,
			Confirm: confirmer,
			States:  states,
			Catalog: products,
		},
		Resolver:      resolver,
		AuthEnabled:   opts.AuthEnabled,
		TransportMode: opts.TransportMode,
		DefaultUserID: opts.DefaultUserID,
		Logger:        logger,
	})

	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: 30 * time.Minute},
	)
	router.Handle("/mcp", mcpHandler)
	router.Handle("/mcp/*", mcpHandler)

	return &App{
		Router:   router,
		MCP:      mcpServer,
		Products: productRepo,
		APIKeys:  keyRepo,
		States:   states,
		Traces:   traces,
	}, nil
}

// Close releases the trace file.
func (a *App) Close() error {
	return a.Traces.Close()
}
