package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/conf"
)

// geminiRepo implements the LLM repository on the Gemini API or Vertex AI
type geminiRepo struct {
	client *genai.Client
	model  string
}

// NewGeminiRepo creates a Gemini LLM repository.
// An API key selects the Gemini API; otherwise Vertex AI is used.
func NewGeminiRepo(ctx context.Context, cfg conf.LLMConfig) (repo.LLMRepo, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.GeminiAPIKey != "":
		cc.APIKey = cfg.GeminiAPIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.GoogleCloudProject != "":
		cc.Project = cfg.GoogleCloudProject
		cc.Location = cfg.GoogleCloudLocation
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT must be set")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &geminiRepo{client: client, model: model}, nil
}

func (r *geminiRepo) config(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
		TopK:        genai.Ptr[float32](40),
		TopP:        genai.Ptr[float32](0.95),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

// Generate runs one chat turn
func (r *geminiRepo) Generate(ctx context.Context, req *repo.GenerateRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Sender == domain.SenderBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	var parts []*genai.Part
	if req.Text != "" {
		parts = append(parts, genai.NewPartFromText(req.Text))
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MimeType))
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	res, err := r.client.Models.GenerateContent(ctx, r.model, contents, r.config(req.SystemInstruction))
	if err != nil {
		return "", mapGeminiError(err)
	}
	return res.Text(), nil
}

// Complete runs a standalone prompt
func (r *geminiRepo) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	res, err := r.client.Models.GenerateContent(ctx, r.model, contents, r.config(""))
	if err != nil {
		return "", mapGeminiError(err)
	}
	return res.Text(), nil
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isExhausted(apiErr.Code, apiErr.Status) {
		return fmt.Errorf("gemini: %s: %w", apiErr.Message, repo.ErrQuotaExceeded)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && isExhausted(apiErrPtr.Code, apiErrPtr.Status) {
		return fmt.Errorf("gemini: %s: %w", apiErrPtr.Message, repo.ErrQuotaExceeded)
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("gemini: %v: %w", err, repo.ErrQuotaExceeded)
	}
	return fmt.Errorf("gemini generate content: %w", err)
}

func isExhausted(code int, status string) bool {
	return code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED"
}
