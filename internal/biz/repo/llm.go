package repo

import (
	"context"
	"errors"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// ErrQuotaExceeded signals provider resource exhaustion; callers must not retry
var ErrQuotaExceeded = errors.New("QUOTA_EXCEEDED")

// GenerateRequest is one chat turn sent to the model
type GenerateRequest struct {
	SystemInstruction string
	History           []domain.Message // customer -> user, bot -> model
	Text              string
	Image             *domain.Image
}

// LLMRepo is the language model interface
type LLMRepo interface {
	// Generate runs one chat turn under a system instruction
	Generate(ctx context.Context, req *GenerateRequest) (string, error)

	// Complete runs a single standalone prompt
	Complete(ctx context.Context, prompt string) (string, error)
}
