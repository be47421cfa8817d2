// Package brainerr defines the error taxonomy shared by the chat, confirm and
// cancel surfaces. Every error carries a stable machine-readable code.
package brainerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how callers are expected to react.
type Kind string

const (
	KindUserInputAmbiguous    Kind = "user_input_ambiguous"
	KindTargetNotFound        Kind = "target_not_found"
	KindPendingMismatch       Kind = "pending_mismatch"
	KindNoPendingAction       Kind = "no_pending_action"
	KindNoVariationSelector   Kind = "no_variation_selector"
	KindPlannerUnavailable    Kind = "planner_unavailable"
	KindExecutorUnavailable   Kind = "executor_unavailable"
	KindInvalidAction         Kind = "invalid_action"
	KindExecutionFailed       Kind = "execution_failed"
	KindPartialBulkFailure    Kind = "partial_bulk_failure"
	KindPostconditionMismatch Kind = "postcondition_mismatch"
)

// Error is a classified failure with an HTTP status and a user-facing message.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, brainerr.ErrNoPending).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// HTTPStatus returns the status to respond with, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Sentinels for errors.Is checks. Codes are left empty so they match any
// code of the same kind.
var (
	ErrNoPending           = &Error{Kind: KindNoPendingAction}
	ErrPendingMismatch     = &Error{Kind: KindPendingMismatch}
	ErrTargetNotFound      = &Error{Kind: KindTargetNotFound}
	ErrExecutorUnavailable = &Error{Kind: KindExecutorUnavailable}
	ErrPlannerUnavailable  = &Error{Kind: KindPlannerUnavailable}
	ErrNoVariationSelector = &Error{Kind: KindNoVariationSelector}
)

func NoPending() *Error {
	return &Error{Kind: KindNoPendingAction, Code: "no_pending", Status: http.StatusBadRequest,
		Message: "No hay ninguna acción pendiente para confirmar."}
}

func PendingMismatch() *Error {
	return &Error{Kind: KindPendingMismatch, Code: "pending_mismatch", Status: http.StatusConflict,
		Message: "La acción pendiente cambió. Volvé a intentar."}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindTargetNotFound, Code: "not_found", Status: http.StatusNotFound, Message: message}
}

func InvalidAction(code, message string) *Error {
	return &Error{Kind: KindInvalidAction, Code: code, Status: http.StatusBadRequest, Message: message}
}

func ExecutorUnavailable() *Error {
	return &Error{Kind: KindExecutorUnavailable, Code: "agent_missing", Status: http.StatusServiceUnavailable,
		Message: "No puedo ejecutar porque el Agente de Catálogo no está activo."}
}

func ExecutionFailed(code, message string) *Error {
	return &Error{Kind: KindExecutionFailed, Code: code, Status: http.StatusInternalServerError, Message: message}
}

func VariationsFailed(message string) *Error {
	return &Error{Kind: KindPartialBulkFailure, Code: "variations_failed", Status: http.StatusInternalServerError, Message: message}
}

func NoVariationSelector() *Error {
	return &Error{Kind: KindNoVariationSelector, Code: "no_variation_selector", Status: http.StatusBadRequest,
		Message: "No hay un selector de variaciones activo."}
}

func BadSelector() *Error {
	return &Error{Kind: KindNoVariationSelector, Code: "bad_selector", Status: http.StatusBadRequest,
		Message: "Selector inválido (product_id)."}
}

// As extracts an *Error from err, wrapping unknown errors as brain_error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindExecutionFailed, Code: "brain_error", Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}
