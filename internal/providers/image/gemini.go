package image

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"adstudio/internal/domain"
	"adstudio/internal/providers/genai"
)

// GeminiGenerator calls the Gemini client and validates what comes back. Every
// failure, including an image that does not decode, is reported as a
// domain.GenerationError.
type GeminiGenerator struct {
	client  CompositeClient
	checker Checker
}

func NewGeminiGenerator(client CompositeClient, checker Checker) *GeminiGenerator {
	if checker == nil {
		checker = NewValidator(nil, DefaultCheckTimeout)
	}
	return &GeminiGenerator{client: client, checker: checker}
}

func (g *GeminiGenerator) Generate(ctx context.Context, logo domain.LogoRef, prompt string) (string, error) {
	asset, err := g.client.GenerateComposite(ctx, genai.CompositeRequest{
		Prompt:    prompt,
		Logo:      logo.Data,
		MIMEType:  logo.MIMEType,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", classify(err)
	}

	ref := asset.URL
	if len(asset.Data) > 0 {
		ref = DataURI(asset.Format, asset.Data)
	}
	if err := g.checker.Check(ctx, ref); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &domain.GenerationError{
			Kind:    domain.FailureValidation,
			Message: err.Error(),
			Err:     errors.Join(domain.ErrInvalidImage, err),
		}
	}
	return ref, nil
}

func classify(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		kind := domain.FailureTransient
		if apiErr.RateLimited() {
			kind = domain.FailureRateLimit
		}
		return &domain.GenerationError{Kind: kind, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	if errors.Is(err, genai.ErrNoImage) {
		return &domain.GenerationError{Kind: domain.FailureValidation, Message: err.Error(), Err: err}
	}
	return &domain.GenerationError{Kind: domain.FailureTransient, Message: err.Error(), Err: err}
}

var (
	_ domain.ImageGenerator = (*GeminiGenerator)(nil)
	_ Checker               = (*Validator)(nil)
	_ CompositeClient       = (*genai.Client)(nil)
)
