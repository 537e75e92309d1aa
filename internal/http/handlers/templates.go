package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type templateDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (a *App) TemplatesList(w http.ResponseWriter, r *http.Request) {
	items := make([]templateDTO, 0, len(a.templates()))
	for _, t := range a.templates() {
		items = append(items, templateDTO{ID: t.ID, Name: t.Name, Category: t.Category})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// TemplateRegenerate re-runs one template of the live run. It answers at once
// with the loading job; the result arrives on the event stream.
func (a *App) TemplateRegenerate(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	job, err := o.RegenerateOne(chi.URLParam(r, "template_id"))
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"job": job})
}
