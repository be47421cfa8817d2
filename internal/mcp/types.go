package mcp

import (
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/rpggio/shopbrain/internal/planner"
)

type ChatParams struct {
	TabID       string         `json:"tab_id,omitempty" jsonschema:"conversation tab id; defaults to the MCP session"`
	TabInstance string         `json:"tab_instance,omitempty" jsonschema:"tab instance; defaults to 1"`
	Message     string         `json:"message" jsonschema:"the user's message"`
	History     []planner.Turn `json:"history,omitempty" jsonschema:"recent turns, oldest first"`
}

type ConfirmParams struct {
	TabID           string `json:"tab_id,omitempty" jsonschema:"conversation tab id; defaults to the MCP session"`
	TabInstance     string `json:"tab_instance,omitempty" jsonschema:"tab instance; defaults to 1"`
	PendingActionID string `json:"pending_action_id,omitempty" jsonschema:"id of the pending action shown to the user; rejected when it no longer matches"`
}

type CancelParams struct {
	TabID       string `json:"tab_id,omitempty" jsonschema:"conversation tab id; defaults to the MCP session"`
	TabInstance string `json:"tab_instance,omitempty" jsonschema:"tab instance; defaults to 1"`
}

type ApplyVariationsParams struct {
	TabID       string  `json:"tab_id,omitempty" jsonschema:"conversation tab id; defaults to the MCP session"`
	TabInstance string  `json:"tab_instance,omitempty" jsonschema:"tab instance; defaults to 1"`
	SelectedIDs []int64 `json:"selected_ids,omitempty" jsonschema:"variation ids to include"`
	ApplyAll    bool    `json:"apply_all,omitempty" jsonschema:"include every variation of the product"`
}

type StateParams struct {
	TabID       string `json:"tab_id,omitempty" jsonschema:"conversation tab id; defaults to the MCP session"`
	TabInstance string `json:"tab_instance,omitempty" jsonschema:"tab instance; defaults to 1"`
}

type ProductSearchParams struct {
	Query   string `json:"q,omitempty" jsonschema:"title or SKU text; a number also matches the product id"`
	Page    int    `json:"page,omitempty" jsonschema:"page number starting at 1"`
	PerPage int    `json:"per_page,omitempty" jsonschema:"page size, at most 100"`
}

// ChatResult mirrors the HTTP chat response.
type ChatResult struct {
	OK         bool              `json:"ok"`
	Reply      string            `json:"reply"`
	StoreState session.State     `json:"store_state"`
	Meta       orchestrator.Meta `json:"meta"`
}

// ReplyResult is returned by cancel and variation apply.
type ReplyResult struct {
	OK                 bool          `json:"ok"`
	Reply              string        `json:"reply"`
	TraceID            string        `json:"trace_id"`
	ShouldClearPending bool          `json:"should_clear_pending,omitempty"`
	StoreState         session.State `json:"store_state"`
}

// StateResult is the brain_state payload.
type StateResult struct {
	OK         bool          `json:"ok"`
	Phase      session.Phase `json:"phase"`
	StoreState session.State `json:"store_state"`
}
