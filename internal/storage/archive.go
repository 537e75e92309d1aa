package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"adstudio/internal/domain"
	"adstudio/pkg/zip"
)

const archiveRoot = "userbanners"

// Archive writes the successful images of a run under
// userbanners/<identity-key>/<run-id>/<template-id>.<ext>.
type Archive struct {
	store *FileStore
}

func NewArchive(store *FileStore) *Archive {
	return &Archive{store: store}
}

// IdentityKey maps a verified email to a stable directory name.
func IdentityKey(identity string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identity))))
	return hex.EncodeToString(sum[:])[:24]
}

func runPrefix(identity, runID string) string {
	return path.Join(archiveRoot, IdentityKey(identity), runID)
}

// SaveRun stores every success image that is an inline data URI. It returns
// the written keys; a single bad image is skipped, not fatal.
func (a *Archive) SaveRun(ctx context.Context, identity string, run domain.GenerationRun) ([]string, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, domain.ErrIdentityMissing
	}
	assets := RunAssets(run)
	if len(assets) == 0 {
		return nil, nil
	}
	prefix := runPrefix(identity, run.ID)
	var saved []string
	var errs []error
	for _, asset := range assets {
		key, err := a.store.Write(ctx, path.Join(prefix, asset.Filename), asset.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset.Filename, err))
			continue
		}
		saved = append(saved, key)
	}
	if len(saved) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return saved, nil
}

// Load reads back an archived run as zip entries.
func (a *Archive) Load(ctx context.Context, identity, runID string) ([]zip.Asset, error) {
	keys, err := a.store.List(ctx, runPrefix(identity, runID))
	if err != nil {
		return nil, err
	}
	assets := make([]zip.Asset, 0, len(keys))
	for _, key := range keys {
		data, err := a.store.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		name := path.Base(key)
		assets = append(assets, zip.Asset{Filename: name, MIME: mimeForExtension(path.Ext(name)), Data: data})
	}
	if len(assets) == 0 {
		return nil, domain.ErrNotFound
	}
	return assets, nil
}

// RunAssets decodes the success images of a run in template order.
func RunAssets(run domain.GenerationRun) []zip.Asset {
	var assets []zip.Asset
	for _, tpl := range domain.Catalog {
		job, ok := run.Results[tpl.ID]
		if !ok || job.Status != domain.JobStatusSuccess || job.ImageURL == "" {
			continue
		}
		mime, data, err := domain.ParseDataURI(job.ImageURL)
		if err != nil || len(data) == 0 {
			continue
		}
		ext := extensionForMIME(mime)
		if ext == "" {
			ext = ".png"
		}
		assets = append(assets, zip.Asset{Filename: tpl.ID + ext, MIME: mime, Data: data})
	}
	return assets
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

func mimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

var _ domain.ImageArchive = (*Archive)(nil)
