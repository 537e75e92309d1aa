package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"adstudio/internal/domain"
)

type runSummary struct {
	ID        string    `json:"id"`
	LogoName  string    `json:"logo_name"`
	CreatedAt time.Time `json:"created_at"`
	Succeeded int       `json:"succeeded"`
	Pending   int       `json:"pending"`
	Failed    int       `json:"failed"`
	Live      bool      `json:"live"`
}

func summarize(run domain.GenerationRun, liveID string) runSummary {
	s := runSummary{ID: run.ID, LogoName: run.Logo.Name, CreatedAt: run.CreatedAt, Live: run.ID == liveID}
	for _, job := range run.Results {
		switch job.Status {
		case domain.JobStatusSuccess:
			s.Succeeded++
		case domain.JobStatusError:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// State returns what the UI currently shows plus engine activity.
func (a *App) State(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, o.State())
}

// HistoryList returns run summaries, newest first, without image payloads.
func (a *App) HistoryList(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	var liveID string
	if live, ok := o.Session().Live(); ok {
		liveID = live.ID
	}
	runs := o.Session().Runs()
	items := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		items = append(items, summarize(run, liveID))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) HistoryView(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	run, err := o.ViewHistory(chi.URLParam(r, "run_id"))
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, runResponse{Run: run})
}

func (a *App) HistoryCurrent(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	run, found := o.BackToCurrent()
	if !found {
		a.engineError(w, r, domain.ErrNoActiveRun)
		return
	}
	a.json(w, http.StatusOK, runResponse{Run: run})
}
