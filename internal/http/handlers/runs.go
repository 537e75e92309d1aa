package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	_ "golang.org/x/image/webp"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
	"adstudio/internal/quota"
	"adstudio/internal/storage"
	"adstudio/pkg/zip"
)

const defaultMaxLogoBytes = 5 << 20

type runRequest struct {
	Logo string `json:"logo"`
	Name string `json:"name"`
}

type runResponse struct {
	Run domain.GenerationRun `json:"run"`
}

type regenerateAllResponse struct {
	Run     domain.GenerationRun `json:"run"`
	Quota   domain.QuotaStatus   `json:"quota"`
	Message string               `json:"message"`
}

// RunsCreate starts a fresh run for an uploaded logo. The logo arrives either
// as a multipart "logo" file or as a JSON data URI.
func (a *App) RunsCreate(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	logo, err := a.readLogo(w, r)
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	run, err := o.GenerateAll(logo)
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, runResponse{Run: run})
}

// RunsRegenerate re-runs every template with the live logo, gated by quota.
func (a *App) RunsRegenerate(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	run, status, err := o.RegenerateAll(r.Context())
	if err != nil {
		a.engineError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, regenerateAllResponse{
		Run:     run,
		Quota:   status,
		Message: quota.Message(middleware.LocaleFromContext(r.Context()), status),
	})
}

// RunArchive streams the successful images of a run as a zip. Runs still in
// memory are read directly; older ones come from the saved archive.
func (a *App) RunArchive(w http.ResponseWriter, r *http.Request) {
	o, ok := a.engine(w, r)
	if !ok {
		return
	}
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run_id required")
		return
	}

	var assets []zip.Asset
	modified := time.Now()
	if run, found := o.Session().Run(runID); found {
		assets = storage.RunAssets(run)
		modified = run.CreatedAt
	}
	if len(assets) == 0 && a.Archive != nil {
		if identity := middleware.IdentityFromContext(r.Context()); identity != "" {
			loaded, err := a.Archive.Load(r.Context(), identity, runID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				a.engineError(w, r, err)
				return
			}
			assets = loaded
		}
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no finished images for this run")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=run-%s.zip", runID))
	w.WriteHeader(http.StatusOK)
	if err := zip.WriteAssets(w, assets, modified); err != nil {
		a.log().Warn().Err(err).Str("run_id", runID).Msg("writing archive failed")
	}
}

func (a *App) maxLogoBytes() int64 {
	if a.Config != nil && a.Config.MaxLogoBytes > 0 {
		return a.Config.MaxLogoBytes
	}
	return defaultMaxLogoBytes
}

func (a *App) readLogo(w http.ResponseWriter, r *http.Request) (domain.LogoRef, error) {
	limit := a.maxLogoBytes()
	// data URIs inflate by a third, leave room for the multipart envelope too
	r.Body = http.MaxBytesReader(w, r.Body, limit*4/3+64<<10)

	var name string
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("logo")
		if err != nil {
			return domain.LogoRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		defer file.Close()
		data, err = io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			return domain.LogoRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		name = header.Filename
	} else {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return domain.LogoRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		_, payload, err := domain.ParseDataURI(strings.TrimSpace(req.Logo))
		if err != nil {
			return domain.LogoRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		data, name = payload, req.Name
	}
	if int64(len(data)) > limit {
		return domain.LogoRef{}, fmt.Errorf("%w: logo exceeds %d bytes", domain.ErrInvalidImage, limit)
	}
	return decodeLogo(name, data)
}

// decodeLogo sniffs the real format instead of trusting the declared one.
func decodeLogo(name string, data []byte) (domain.LogoRef, error) {
	if len(data) == 0 {
		return domain.LogoRef{}, domain.ErrInvalidImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.LogoRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = "logo." + format
	}
	return domain.LogoRef{Name: name, MIMEType: "image/" + format, Data: data}, nil
}
