package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/shopbrain/internal/domain/brainerr"
	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/session"
)

// APIError represents an MCP error response.
type APIError struct {
	OK           bool           `json:"ok"`
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	TraceID      string         `json:"trace_id,omitempty"`
	RecoveryHint string         `json:"recovery_hint,omitempty"`
	StoreState   *session.State `json:"store_state,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to stable MCP error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrInvalidScope):
		return &APIError{Code: "unauthorized", Message: "no user for this session", RecoveryHint: "Authenticate with a bearer token"}
	case errors.Is(err, catalog.ErrProductNotFound):
		return &APIError{Code: "not_found", Message: "product not found", RecoveryHint: "Use product_search to find a valid id"}
	case errors.Is(err, brainerr.ErrNoPending):
		return fromBrain(err, "Nothing to confirm; draft an action with brain_chat first")
	case errors.Is(err, brainerr.ErrPendingMismatch):
		return fromBrain(err, "Call brain_state and confirm the current pending action id")
	case errors.Is(err, brainerr.ErrExecutorUnavailable):
		return fromBrain(err, "The pending action is kept; retry once the executor is enabled")
	case errors.Is(err, brainerr.ErrNoVariationSelector):
		return fromBrain(err, "Ask for a price change on a variable product first")
	}
	return fromBrain(err, "")
}

func fromBrain(err error, hint string) *APIError {
	be := brainerr.As(err)
	return &APIError{Code: be.Code, Message: be.Message, RecoveryHint: hint}
}
