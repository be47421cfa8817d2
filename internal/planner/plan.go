package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpggio/shopbrain/internal/domain/action"
)

// Kind identifies a plan variant.
type Kind string

const (
	KindQuestion     Kind = "question"
	KindDraftAction  Kind = "draft_action"
	KindAnswer       Kind = "answer"
	KindParseFailure Kind = "parse_failure"
)

// Plan is one of Question, DraftAction, Answer or ParseFailure.
type Plan interface {
	Kind() Kind
	// Text is the reply the planner wants shown to the user.
	Text() string
	// Conflict reports the planner flagged a clash with a pending action.
	Conflict() bool
}

// Base carries the fields every successful plan shares.
type Base struct {
	Reply          string `json:"reply"`
	PendingClashes bool   `json:"conflict,omitempty"`
}

func (b Base) Text() string { return b.Reply }
func (b Base) Conflict() bool { return b.PendingClashes }

// Question asks the user for missing slots.
type Question struct {
	Base
	Missing []string `json:"missing"`
}

func (Question) Kind() Kind { return KindQuestion }

// DraftAction proposes a mutation.
type DraftAction struct {
	Base
	Action action.Action `json:"action"`
}

func (DraftAction) Kind() Kind { return KindDraftAction }

// Answer is a plain reply with no state change.
type Answer struct {
	Base
	// Fallback marks the canned reply used after repeated parse failures or
	// when no planner is configured.
	Fallback bool `json:"-"`
}

func (Answer) Kind() Kind { return KindAnswer }

// ParseFailure is planner output that could not be read as a plan.
type ParseFailure struct {
	Raw string
	Err error
}

func (ParseFailure) Kind() Kind { return KindParseFailure }
func (ParseFailure) Text() string { return "" }
func (ParseFailure) Conflict() bool { return false }
func (p ParseFailure) Error() string { return fmt.Sprintf("unparseable plan: %v", p.Err) }
func (p ParseFailure) Unwrap() error { return p.Err }

var (
	errNoJSON       = errors.New("no JSON object in output")
	errUnknownKind  = errors.New("unknown plan kind")
	errMissingField = errors.New("missing required field")
)

type wirePlan struct {
	Kind     string          `json:"kind"`
	Reply    string          `json:"reply"`
	Missing  []string        `json:"missing"`
	Action   json.RawMessage `json:"action"`
	Conflict bool            `json:"conflict"`
}

// Parse reads the first JSON object in raw as a plan. Anything malformed
// becomes a ParseFailure.
func Parse(raw string) Plan {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ParseFailure{Raw: raw, Err: errNoJSON}
	}

	var w wirePlan
	if err := json.Unmarshal([]byte(raw[start:end+1]), &w); err != nil {
		return ParseFailure{Raw: raw, Err: err}
	}

	base := Base{Reply: strings.TrimSpace(w.Reply), PendingClashes: w.Conflict}
	switch Kind(strings.ToLower(strings.TrimSpace(w.Kind))) {
	case KindQuestion:
		missing := make([]string, 0, len(w.Missing))
		for _, m := range w.Missing {
			if m = strings.TrimSpace(m); m != "" {
				missing = append(missing, m)
			}
		}
		return Question{Base: base, Missing: missing}
	case KindDraftAction:
		if len(w.Action) == 0 || string(w.Action) == "null" {
			return ParseFailure{Raw: raw, Err: fmt.Errorf("%w: action", errMissingField)}
		}
		var a action.Action
		if err := json.Unmarshal(w.Action, &a); err != nil {
			return ParseFailure{Raw: raw, Err: fmt.Errorf("decoding action: %w", err)}
		}
		if a.Type == "" {
			return ParseFailure{Raw: raw, Err: fmt.Errorf("%w: action.type", errMissingField)}
		}
		return DraftAction{Base: base, Action: a}
	case KindAnswer:
		return Answer{Base: base}
	default:
		return ParseFailure{Raw: raw, Err: fmt.Errorf("%w: %q", errUnknownKind, w.Kind)}
	}
}
