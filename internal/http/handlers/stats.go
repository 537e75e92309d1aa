package handlers

import (
	"net/http"
)

// StatsSummary reports how many engines are live and how the catalog splits
// across categories.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	templates := a.templates()
	categories := make(map[string]int)
	for _, tpl := range templates {
		categories[tpl.Category]++
	}
	engines := 0
	if a.Engines != nil {
		engines = a.Engines.Len()
	}
	a.json(w, http.StatusOK, map[string]any{
		"engines":    engines,
		"templates":  len(templates),
		"categories": categories,
	})
}
