// Package intent classifies short user messages with an ordered table of
// tagged regular expressions. Matchers run against normalize.IntentText
// output, so patterns only need the unaccented lowercase forms.
package intent

import (
	"regexp"

	"github.com/rpggio/shopbrain/internal/normalize"
)

// Tag identifies the family a matcher belongs to.
type Tag string

const (
	TagNone       Tag = ""
	TagConfirm    Tag = "confirm"
	TagCancel     Tag = "cancel"
	TagPriceWord  Tag = "price_word"
	TagActionVerb Tag = "action_verb"
	TagStockWord  Tag = "stock_word"
)

// Matcher is one row of the classification table.
type Matcher struct {
	Name    string
	Tag     Tag
	Pattern *regexp.Regexp
}

// Result is the outcome of Classify. Matcher is empty when nothing matched.
type Result struct {
	Tag     Tag
	Matcher string
}

// Matched reports whether any row matched.
func (r Result) Matched() bool { return r.Tag != TagNone }

// Table is evaluated top to bottom; the first match wins. Strict whole-message
// tokens come before the looser word matchers of the same family.
var Table = []Matcher{
	{Name: "confirm_token", Tag: TagConfirm, Pattern: regexp.MustCompile(`^(?:confirmar|confirmo|confirma|dale|ok|okay|si|listo|hacelo|hacele|aplica|aplicalo|aplicala|mandale|ejecutar|ejecuta|ejecutalo|ejecutar\s+ahora)$`)},
	{Name: "cancel_token", Tag: TagCancel, Pattern: regexp.MustCompile(`^(?:cancelar|cancelo|cancela|cancel|anular|abortar|dejala\s+de\s+lado|dejarla\s+de\s+lado|dejalo\s+de\s+lado|dejarlo\s+de\s+lado|dejar\s+de\s+lado)$`)},
	{Name: "confirm_main", Tag: TagConfirm, Pattern: regexp.MustCompile(`\b(?:confirm|confirmo|confirmar|confirmado|ok|dale|de una|ejecut|mandale|metele|listo|vamos)\b`)},
	{Name: "cancel_main", Tag: TagCancel, Pattern: regexp.MustCompile(`\b(?:cancel|cancela|cancelar|anul|anular|stop|para|parar|deten|detener|dejalo|dejala|dejarlo|dejarla|descart|sacalo|sacala|sacar|olvida|olvidalo|olvidala)\b`)},
	{Name: "cancel_dejar_de_lado", Tag: TagCancel, Pattern: regexp.MustCompile(`\bdejar(?:lo|la)?\s+de\s+lado\b`)},
	{Name: "cancel_mejor_no", Tag: TagCancel, Pattern: regexp.MustCompile(`\bmejor\s+no\b`)},
	{Name: "cancel_only_no", Tag: TagCancel, Pattern: regexp.MustCompile(`^\s*(?:no|nop|nah)\s*$`)},
	{Name: "price_word", Tag: TagPriceWord, Pattern: regexp.MustCompile(`\b(?:precio|price|valor|importe)\b`)},
	{Name: "action_verb", Tag: TagActionVerb, Pattern: regexp.MustCompile(`\b(?:crea|crear|actualiza|actualizar|cambia|cambiar|pone|poner|setea|setear|agrega|agregar|modifica|modificar|subi|subir|baja|bajar)\b`)},
	{Name: "stock_word", Tag: TagStockWord, Pattern: regexp.MustCompile(`\b(?:stock|unidades|unidad|cantidad)\b`)},
}

// Classify normalizes text and returns the first matching row of Table.
func Classify(text string) Result {
	return classify(Table, normalize.IntentText(text))
}

// Has reports whether any row tagged tag matches text.
func Has(text string, tag Tag) bool {
	norm := normalize.IntentText(text)
	for _, m := range Table {
		if m.Tag == tag && m.Pattern.MatchString(norm) {
			return true
		}
	}
	return false
}

// LooksLikeConfirm reports whether text reads as a confirmation attempt.
func LooksLikeConfirm(text string) bool { return Has(text, TagConfirm) }

// LooksLikeCancel reports whether text reads as a cancellation attempt.
func LooksLikeCancel(text string) bool { return Has(text, TagCancel) }

func classify(table []Matcher, norm string) Result {
	if norm == "" {
		return Result{}
	}
	for _, m := range table {
		if m.Pattern.MatchString(norm) {
			return Result{Tag: m.Tag, Matcher: m.Name}
		}
	}
	return Result{}
}
