package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"adstudio/internal/middleware"
)

const googleVerifyTimeout = 10 * time.Second

type sessionRequest struct {
	Locale string `json:"locale"`
}

type googleVerifyRequest struct {
	IDToken string `json:"id_token"`
	// SessionToken carries an existing anonymous session over, so the
	// history built before verification stays with the user.
	SessionToken string `json:"session_token"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      userProfile `json:"user"`
}

type userProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"verified"`
	Locale   string `json:"locale"`
}

// AuthSession issues an anonymous session token. Generation works without a
// verified email; only bulk regeneration needs one.
func (a *App) AuthSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	a.issueToken(w, middleware.TokenClaims{Locale: locale}, uuid.NewString())
}

func (a *App) AuthGoogleVerify(w http.ResponseWriter, r *http.Request) {
	if a.Google == nil {
		a.error(w, http.StatusNotImplemented, "not_configured", "google sign-in is not configured")
		return
	}
	var req googleVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.IDToken == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id_token required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), googleVerifyTimeout)
	defer cancel()
	identity, err := a.Google.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		a.log().Warn().Err(err).Msg("google verify failed")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid google token")
		return
	}

	subject := "google:" + identity.Subject
	if req.SessionToken != "" {
		if prev, err := middleware.VerifyJWT(a.Config.JWTSecret, a.Config.JWTIssuer, req.SessionToken); err == nil {
			subject = prev.Subject
		}
	}
	locale := identity.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	a.issueToken(w, middleware.TokenClaims{
		Email:         identity.Email,
		EmailVerified: true,
		Locale:        locale,
	}, subject)
}

func (a *App) issueToken(w http.ResponseWriter, claims middleware.TokenClaims, subject string) {
	now := time.Now()
	expires := now.Add(a.Config.TokenTTL)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.Config.JWTIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := middleware.SignJWT(a.Config.JWTSecret, claims)
	if err != nil {
		a.log().Error().Err(err).Msg("sign jwt failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expires.UTC(),
		User: userProfile{
			ID:       subject,
			Email:    strings.ToLower(claims.Email),
			Verified: claims.EmailVerified,
			Locale:   claims.Locale,
		},
	})
}

func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	identity := middleware.IdentityFromContext(r.Context())
	a.json(w, http.StatusOK, userProfile{
		ID:       userID,
		Email:    identity,
		Verified: identity != "",
		Locale:   middleware.LocaleFromContext(r.Context()),
	})
}
