package image

import (
	"context"
	"net/http"
	"strings"

	"adstudio/internal/providers/genai"
)

// CompositeClient is the part of the Gemini client the generator depends on.
type CompositeClient interface {
	GenerateComposite(ctx context.Context, req genai.CompositeRequest) (*genai.ImageAsset, error)
}

// Checker loads an image reference and fails when it cannot be loaded.
type Checker interface {
	Check(ctx context.Context, ref string) error
}

// DataURI renders raw bytes as an inline image reference.
func DataURI(mime string, data []byte) string {
	if strings.TrimSpace(mime) == "" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + encodeBase64(data)
}
