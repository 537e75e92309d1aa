package handlers

import (
	"net/http"
	"time"
)

type healthBody struct {
	Status       string    `json:"status"`
	Time         time.Time `json:"time"`
	Engines      int       `json:"engines"`
	Archive      bool      `json:"archive"`
	GoogleSignIn bool      `json:"google_sign_in"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Status:       "ok",
		Time:         time.Now().UTC(),
		Archive:      a.Archive != nil,
		GoogleSignIn: a.Google != nil,
	}
	if a.Engines != nil {
		body.Engines = a.Engines.Len()
	}
	a.json(w, http.StatusOK, body)
}
