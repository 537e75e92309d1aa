package handlers

import (
	"net/http"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
	"adstudio/internal/quota"
)

type quotaBody struct {
	errorBody
	Quota domain.QuotaStatus `json:"quota"`
}

// QuotaStatus reports the caller's bulk regeneration counter.
func (a *App) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	identity := middleware.IdentityFromContext(r.Context())
	if identity == "" {
		a.engineError(w, r, domain.ErrIdentityMissing)
		return
	}
	status, err := a.Gate.CheckLimit(r.Context(), identity)
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"quota":   status,
		"message": quota.Message(locale, status),
	})
}
