// Package planner asks a language model to turn a user message into a
// structured plan: a clarifying question, a draft action, or a plain answer.
package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tiktoken-go/tokenizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultTemperature  = 0.2
	defaultHistoryTurns = 10

	retrySuffix = "\n\nIMPORTANTE: Devolvé SOLO JSON válido, sin texto extra."

	FallbackReply    = "Me trabé interpretando eso. ¿Podés reformularlo en una frase corta? (por ejemplo: “subí el precio 10% de remeras”)"
	UnavailableReply = "Para usar la IA necesito un planificador configurado (API key del modelo). Configuralo y lo seguimos 😊"
)

// Completer is the chat completions call the interpreter needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// Config tunes the interpreter.
type Config struct {
	Model       string
	Temperature float32
	// MaxHistoryTurns keeps only the most recent turns (default 10).
	MaxHistoryTurns int
	// MaxHistoryTokens drops the oldest kept turns until the history fits;
	// zero disables the budget.
	MaxHistoryTokens int
}

// ContextLite is the session summary sent with every request.
type ContextLite struct {
	Summary        string `json:"summary"`
	FocusEntity    any    `json:"focus_entity"`
	HasPending     bool   `json:"has_pending"`
	PendingSummary string `json:"pending_summary,omitempty"`
	LastResults    []any  `json:"last_results"`
}

// Turn is one history entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Interpreter calls the planner and validates its output.
type Interpreter struct {
	client Completer
	cfg    Config
	codec  tokenizer.Codec
	logger *slog.Logger
	tracer oteltrace.Tracer
}

// NewInterpreter creates an interpreter. A nil client yields guidance
// answers instead of plans.
func NewInterpreter(client Completer, cfg Config, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = defaultHistoryTurns
	}

	i := &Interpreter{
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/rpggio/shopbrain/internal/planner"),
	}
	if cfg.MaxHistoryTokens > 0 {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logger.Warn("tokenizer unavailable, history token budget disabled", "error", err)
		} else {
			i.codec = codec
		}
	}
	return i
}

// Available reports whether a planner client is configured.
func (i *Interpreter) Available() bool {
	return i != nil && i.client != nil
}

// Plan asks the planner for a plan. A malformed response is retried once
// with a stricter instruction; a second failure yields a fallback Answer.
func (i *Interpreter) Plan(ctx context.Context, message string, lite ContextLite, history []Turn) Plan {
	if !i.Available() {
		return Answer{Base: Base{Reply: UnavailableReply}, Fallback: true}
	}

	ctx, span := i.tracer.Start(ctx, "planner.Plan")
	defer span.End()

	system := systemPrompt()
	user := userPrompt(message, lite, i.trimHistory(history))

	plan := i.attempt(ctx, system, user)
	if pf, ok := plan.(ParseFailure); ok {
		i.logger.Warn("planner output unparseable, retrying", "error", pf.Err)
		span.AddEvent("retry")
		plan = i.attempt(ctx, system, user+retrySuffix)
	}
	if pf, ok := plan.(ParseFailure); ok {
		i.logger.Warn("planner output unparseable after retry", "error", pf.Err, "raw", truncate(pf.Raw, 500))
		plan = Answer{Base: Base{Reply: FallbackReply}, Fallback: true}
	}

	span.SetAttributes(
		attribute.String("plan.kind", string(plan.Kind())),
		attribute.Bool("plan.conflict", plan.Conflict()),
	)
	return plan
}

func (i *Interpreter) attempt(ctx context.Context, system, user string) Plan {
	temp := i.cfg.Temperature
	resp, err := i.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: i.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    &temp,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return ParseFailure{Err: err}
	}
	return Parse(resp.Content())
}

// trimHistory keeps the last MaxHistoryTurns turns, then drops the oldest
// until the token budget holds.
func (i *Interpreter) trimHistory(history []Turn) []Turn {
	if len(history) > i.cfg.MaxHistoryTurns {
		history = history[len(history)-i.cfg.MaxHistoryTurns:]
	}
	if i.codec == nil || i.cfg.MaxHistoryTokens <= 0 {
		return history
	}

	counts := make([]int, len(history))
	total := 0
	for idx, t := range history {
		ids, _, err := i.codec.Encode(t.Content)
		if err != nil {
			counts[idx] = len(t.Content) / 4
		} else {
			counts[idx] = len(ids)
		}
		total += counts[idx]
	}
	start := 0
	for start < len(history) && total > i.cfg.MaxHistoryTokens {
		total -= counts[start]
		start++
	}
	return history[start:]
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("Sos el asistente de gestión de una tienda online.\n\n")
	b.WriteString("REGLAS DE ORO:\n")
	b.WriteString("- NUNCA ejecutes ni confirmes nada con palabras. Las acciones se confirman o cancelan sólo con los botones de la tarjeta.\n")
	b.WriteString("- Si falta info, hacé 1 pregunta concreta por vez (máximo 2).\n")
	b.WriteString("- Si ya hay una acción pendiente y el usuario pide algo distinto, respondé con \"conflict\": true.\n")
	b.WriteString("- Tus salidas deben ser JSON válido, SIN texto adicional.\n\n")
	b.WriteString("FORMATO JSON (elegí 1 kind):\n")
	b.WriteString(`1) {"kind":"question","reply":"...","missing":["product_id","price"]}` + "\n")
	b.WriteString(`2) {"kind":"draft_action","reply":"...","action":{"type":"update_product|bulk_update","human_summary":"...","product_id":123,"changes":{"regular_price":"1500"},"risk":"low|medium|high"}}` + "\n")
	b.WriteString(`3) {"kind":"answer","reply":"..."}` + "\n")
	b.WriteString(`Cualquier kind puede incluir "conflict": true.`)
	return b.String()
}

func userPrompt(message string, lite ContextLite, history []Turn) string {
	if lite.LastResults == nil {
		lite.LastResults = []any{}
	}
	if history == nil {
		history = []Turn{}
	}
	payload, err := json.Marshal(struct {
		StoreState ContextLite `json:"store_state"`
		History    []Turn      `json:"history"`
		Message    string      `json:"message"`
	}{lite, history, strings.TrimSpace(message)})
	if err != nil {
		payload = []byte(`{"message":` + quote(message) + `}`)
	}
	return "Contexto y mensaje del usuario (JSON):\n" + string(payload)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
