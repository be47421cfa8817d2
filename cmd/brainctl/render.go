package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/domain/session"
)

var (
	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// renderReply shows an assistant reply followed by whatever is pending.
func renderReply(reply string, st session.State) string {
	var b strings.Builder
	b.WriteString(replyStyle.Render(strings.ReplaceAll(reply, "**", "")))
	b.WriteString("\n")
	if card := renderPending(st); card != "" {
		b.WriteString(card)
		b.WriteString("\n")
	}
	b.WriteString(phaseStyle.Render("phase: " + string(st.Phase())))
	return b.String()
}

func renderPending(st session.State) string {
	switch {
	case st.PendingAction != nil:
		pa := st.PendingAction
		lines := []string{
			"Acción pendiente " + idStyle.Render(pa.ID),
			describeAction(pa),
			"brainctl confirm | brainctl cancel",
		}
		return cardStyle.Render(strings.Join(lines, "\n"))
	case st.PendingTargetSelection != nil:
		sel := st.PendingTargetSelection
		lines := []string{fmt.Sprintf("Elegí %s (%d)", selectorNoun(sel.Kind), sel.Total)}
		for _, c := range sel.Candidates {
			label := c.Title
			if c.Label != "" {
				label = c.Label
			}
			price := c.Price
			if price == "" {
				price = c.RegularPrice
			}
			lines = append(lines, fmt.Sprintf("%s %s %s", idStyle.Render(fmt.Sprintf("#%d", c.ID)), label, price))
		}
		return cardStyle.Render(strings.Join(lines, "\n"))
	case st.PendingQuestion != nil:
		return phaseStyle.Render("falta: " + strings.Join(st.PendingQuestion.Missing, ", "))
	}
	return ""
}

func describeAction(pa *session.PendingAction) string {
	a := pa.Action
	if a.HumanSummary != "" {
		return a.HumanSummary
	}
	keys := make([]string, 0, len(a.Changes))
	for k := range a.Changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Changes[k]))
	}
	return fmt.Sprintf("%s #%d %s", a.Type, a.ProductID, strings.Join(parts, " "))
}

func selectorNoun(kind session.SelectorKind) string {
	if kind == session.SelectorVariation {
		return "variaciones"
	}
	return "producto"
}

func renderPendingChoice(pc *orchestrator.PendingChoice) string {
	return warnStyle.Render(fmt.Sprintf("Ya hay una acción pendiente. ¿Reemplazarla por %q? [s/N]", pc.DeferredMessage))
}

func renderSearch(res *catalog.SearchResult) string {
	if len(res.Items) == 0 {
		return phaseStyle.Render("sin resultados")
	}
	lines := make([]string, 0, len(res.Items)+1)
	for _, it := range res.Items {
		lines = append(lines, fmt.Sprintf("%s %s %s %s", idStyle.Render(fmt.Sprintf("#%d", it.ID)), it.Title, idStyle.Render(it.SKU), it.Price))
	}
	lines = append(lines, phaseStyle.Render(fmt.Sprintf("página %d, %d en total", res.Page, res.Total)))
	return strings.Join(lines, "\n")
}

func renderError(err error) string {
	return errorStyle.Render("error: " + err.Error())
}
