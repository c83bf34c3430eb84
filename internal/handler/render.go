package handler

import (
	"fmt"
	"sort"
	"strings"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pool"
	"expedition-bot/internal/transfer"
)

var statusLabels = map[model.ExpeditionStatus]string{
	model.StatusPlanning: "🛠️ en préparation",
	model.StatusLocked:   "🔒 verrouillée",
	model.StatusDeparted: "🚶 en route",
	model.StatusReturned: "🏠 rentrée",
}

func statusLabel(status string) string {
	if l, ok := statusLabels[model.ExpeditionStatus(status)]; ok {
		return l
	}
	return status
}

func renderExpedition(exp *model.Expedition, stock pool.Pool, catalog []model.ResourceType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧭 Expédition %s\n", exp.Name)
	fmt.Fprintf(&b, "Statut : %s\n", statusLabel(string(exp.Status)))
	fmt.Fprintf(&b, "Durée : %d jour(s)\n", exp.DurationDays)
	if exp.ReturnAt != nil {
		fmt.Fprintf(&b, "Retour prévu : %s\n", exp.ReturnAt.Format("02/01/2006 15:04"))
	}

	names := make([]string, 0, len(exp.Members))
	for _, m := range exp.Members {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	fmt.Fprintf(&b, "\n👥 Membres (%d) : %s\n", len(names), strings.Join(names, ", "))
	fmt.Fprintf(&b, "\n🎒 Ressources :\n%s", renderPool(stock, catalog))
	return b.String()
}

func renderPool(p pool.Pool, catalog []model.ResourceType) string {
	rows := p.Positive()
	if len(rows) == 0 {
		return "(vide)"
	}
	byID := make(map[int]model.ResourceType, len(catalog))
	for _, rt := range catalog {
		byID[rt.ID] = rt
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		rt, ok := byID[r.ResourceTypeID]
		if !ok {
			lines = append(lines, fmt.Sprintf("• #%d : %d", r.ResourceTypeID, r.Quantity))
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s %s : %d", rt.Emoji, rt.Name, r.Quantity))
	}
	return strings.Join(lines, "\n")
}

func formatLegs(legs []transfer.Leg) string {
	if len(legs) == 0 {
		return "rien"
	}
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("#%d", l.ResourceTypeID)
		}
		parts = append(parts, fmt.Sprintf("%d %s", l.Quantity, name))
	}
	return strings.Join(parts, ", ")
}
