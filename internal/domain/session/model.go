package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rpggio/shopbrain/internal/domain/action"
)

// Phase is the conversational state derived from the pending fields.
type Phase string

const (
	PhaseIdle                    Phase = "idle"
	PhaseAwaitingSlots           Phase = "awaiting_slots"
	PhaseAwaitingTargetSelection Phase = "awaiting_target_selection"
	PhaseAwaitingConfirmation    Phase = "awaiting_confirmation"
)

// SelectorKind identifies a target selection.
type SelectorKind string

const (
	SelectorProduct   SelectorKind = "product_selector"
	SelectorVariation SelectorKind = "variation_selector"
)

const (
	DefaultTabID       = "default"
	DefaultTabInstance = "1"
)

var scopeUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Scope identifies one browser tab instance of one user.
type Scope struct {
	UserID      string `json:"user_id"`
	TabID       string `json:"tab_id"`
	TabInstance string `json:"tab_instance"`
}

// NewScope sanitizes the tab fields and applies defaults.
func NewScope(userID, tabID, tabInstance string) Scope {
	return Scope{
		UserID:      strings.TrimSpace(userID),
		TabID:       sanitizeScopePart(tabID, DefaultTabID),
		TabInstance: sanitizeScopePart(tabInstance, DefaultTabInstance),
	}
}

// Key is the storage key for the scope.
func (s Scope) Key() string {
	return fmt.Sprintf("brain_state_%s_%s_%s", sanitizeScopePart(s.UserID, "0"), s.TabID, s.TabInstance)
}

func sanitizeScopePart(v, fallback string) string {
	v = scopeUnsafe.ReplaceAllString(strings.TrimSpace(v), "")
	if v == "" {
		return fallback
	}
	return v
}

// PendingQuestion records slots the user still has to provide.
// Question is the text that was asked, re-sent while slots stay missing.
type PendingQuestion struct {
	Missing  []string `json:"missing"`
	Question string   `json:"question,omitempty"`
	TS       int64    `json:"ts"`
}

// Candidate is one selectable entry. Product selectors fill the product
// fields, variation selectors the variation fields.
type Candidate struct {
	ID           int64             `json:"id"`
	Title        string            `json:"title,omitempty"`
	SKU          string            `json:"sku,omitempty"`
	Price        string            `json:"price,omitempty"`
	ThumbURL     string            `json:"thumb_url,omitempty"`
	Categories   []string          `json:"categories,omitempty"`
	Label        string            `json:"label,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	RegularPrice string            `json:"regular_price,omitempty"`
	SalePrice    string            `json:"sale_price,omitempty"`
	StockStatus  string            `json:"stock_status,omitempty"`
}

// TargetSelection is an open product or variation selector.
type TargetSelection struct {
	Kind       SelectorKind      `json:"kind"`
	Query      string            `json:"query,omitempty"`
	ProductID  int64             `json:"product_id,omitempty"`
	Changes    map[string]string `json:"changes,omitempty"`
	Candidates []Candidate       `json:"candidates"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
	AskedAt    int64             `json:"asked_at"`
}

// PendingAction is a normalized action awaiting button confirmation.
// Timestamps are unix milliseconds.
type PendingAction struct {
	ID        string        `json:"id"`
	CreatedAt int64         `json:"created_at"`
	ExpiresAt int64         `json:"expires_at"`
	Action    action.Action `json:"action"`
}

// State is the whole per-scope conversation state.
type State struct {
	Summary                string           `json:"summary"`
	FocusEntity            any              `json:"focus_entity"`
	LastResults            []any            `json:"last_results"`
	PendingQuestion        *PendingQuestion `json:"pending_question"`
	PendingTargetSelection *TargetSelection `json:"pending_target_selection"`
	PendingAction          *PendingAction   `json:"pending_action"`
	LastUpdatedAtMS        int64            `json:"last_updated_at_ms"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{LastResults: []any{}}
}

// Phase derives the state machine position. A pending action takes
// precedence over everything else.
func (s *State) Phase() Phase {
	switch {
	case s.PendingAction != nil:
		return PhaseAwaitingConfirmation
	case s.PendingTargetSelection != nil:
		return PhaseAwaitingTargetSelection
	case s.PendingQuestion != nil:
		return PhaseAwaitingSlots
	default:
		return PhaseIdle
	}
}

// AskQuestion opens a pending question and clears the other pending fields.
func (s *State) AskQuestion(q PendingQuestion) {
	s.ClearPending()
	s.PendingQuestion = &q
}

// OpenSelector opens a target selection and clears the other pending fields.
func (s *State) OpenSelector(sel TargetSelection) {
	s.ClearPending()
	s.PendingTargetSelection = &sel
}

// SetPendingAction stores a pending action and clears the other pending fields.
func (s *State) SetPendingAction(pa PendingAction) {
	s.ClearPending()
	s.PendingAction = &pa
}

// ClearPending drops every pending field.
func (s *State) ClearPending() {
	s.PendingQuestion = nil
	s.PendingTargetSelection = nil
	s.PendingAction = nil
}

// PendingCount is the number of non-nil pending fields.
func (s *State) PendingCount() int {
	n := 0
	if s.PendingQuestion != nil {
		n++
	}
	if s.PendingTargetSelection != nil {
		n++
	}
	if s.PendingAction != nil {
		n++
	}
	return n
}
