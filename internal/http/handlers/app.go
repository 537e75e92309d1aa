package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/infra/google"
	"adstudio/internal/middleware"
	"adstudio/internal/orchestrator"
	"adstudio/internal/quota"
	"adstudio/internal/storage"
)

// IDTokenVerifier checks a Google sign-in token and returns the verified email.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (google.Identity, error)
}

type App struct {
	Config    *infra.Config
	Logger    *infra.Logger
	Engines   *orchestrator.Registry
	Gate      *quota.Gate
	Archive   *storage.Archive
	Google    IDTokenVerifier
	Templates []domain.Template
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errCode, Message: message})
}

func (a *App) log() *infra.Logger {
	if a.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return a.Logger
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) templates() []domain.Template {
	if a.Templates == nil {
		return domain.Catalog
	}
	return a.Templates
}

// engine resolves the caller's orchestrator and hands it the verified email
// from the token, if any. It writes the error response itself.
func (a *App) engine(w http.ResponseWriter, r *http.Request) (*orchestrator.Orchestrator, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	o, err := a.Engines.Get(r.Context(), userID)
	if err != nil {
		a.engineError(w, r, err)
		return nil, false
	}
	if identity := middleware.IdentityFromContext(r.Context()); identity != "" {
		o.SetIdentity(identity)
	}
	return o, true
}

// engineError maps engine failures onto calm JSON errors.
func (a *App) engineError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	var quotaErr *domain.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		status := domain.QuotaStatus{Used: quotaErr.Used, Max: quotaErr.Max}
		a.json(w, http.StatusTooManyRequests, quotaBody{
			errorBody: errorBody{Error: "quota_exceeded", Message: quota.Message(locale, status)},
			Quota:     status,
		})
	case errors.Is(err, domain.ErrIdentityMissing):
		a.error(w, http.StatusForbidden, "identity_required", quota.IdentityMessage(locale))
	case errors.Is(err, domain.ErrHistoryReadOnly):
		a.error(w, http.StatusConflict, "history_read_only", "past runs are read-only; go back to the current run first")
	case errors.Is(err, domain.ErrNoActiveRun):
		a.error(w, http.StatusConflict, "no_active_run", "upload a logo to start a run first")
	case errors.Is(err, domain.ErrUnknownTemplate):
		a.error(w, http.StatusNotFound, "unknown_template", "template not found")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "run not found")
	case errors.Is(err, domain.ErrInvalidImage):
		a.error(w, http.StatusBadRequest, "invalid_image", "the logo must be a PNG, JPEG, WebP or GIF image")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "please try again")
	default:
		a.log().Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}
