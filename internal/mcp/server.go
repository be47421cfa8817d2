package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/confirmation"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
)

// ChatService runs conversational turns.
type ChatService interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// ConfirmService executes, cancels and scopes pending actions.
type ConfirmService interface {
	Confirm(ctx context.Context, scope session.Scope, requestedID, traceID string) (*confirmation.Result, error)
	Cancel(ctx context.Context, scope session.Scope, traceID string) (*confirmation.Reply, error)
	ApplyVariations(ctx context.Context, scope session.Scope, selectedIDs []int64, applyAll bool, traceID string) (*confirmation.Reply, error)
}

// StateService reads conversation state.
type StateService interface {
	Get(ctx context.Context, scope session.Scope) (*session.State, error)
}

// CatalogService searches products.
type CatalogService interface {
	Search(ctx context.Context, q string, page, perPage int) (*catalog.SearchResult, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Chat    ChatService
	Confirm ConfirmService
	States  StateService
	Catalog CatalogService
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Resolver      UserResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	DefaultUserID string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = "1"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "shopbrain",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only and never authenticates.
	if cfg.TransportMode != "stdio" && cfg.AuthEnabled {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(noAuthMiddleware(cfg.DefaultUserID))
	}
	server.AddReceivingMiddleware(sessionMiddleware())
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services, cfg.Logger)

	return server
}
